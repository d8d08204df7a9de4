//go:build unix

package repository

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile はpathに対するアドバイザリ排他ロックを取得し、解放関数を返す。
// 同じストアファイルを共有する別プロセスとの書き込み競合を防ぐ。
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
