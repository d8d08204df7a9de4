//go:build !unix

package repository

// lockFile はflockを持たない環境ではプロセス内ミューテックスのみで直列化する。
func lockFile(string) (func(), error) {
	return func() {}, nil
}
