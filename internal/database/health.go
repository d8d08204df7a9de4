package database

import (
	"context"
	"errors"
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerPinger はbadger DBの状態をPingContextの形で公開する。
type BadgerPinger struct {
	DB *badger.DB
}

// PingContext はDBが閉じられていればエラーを返す。
func (p BadgerPinger) PingContext(ctx context.Context) error {
	if p.DB == nil || p.DB.IsClosed() {
		return errors.New("badger database is closed")
	}
	return ctx.Err()
}

// DirPinger はファイルストアの保存先ディレクトリが存在するかを確認する。
type DirPinger struct {
	Dirs []string
}

// PingContext は各ディレクトリが存在しディレクトリであることを確認する。
func (p DirPinger) PingContext(ctx context.Context) error {
	for _, dir := range p.Dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("store directory unavailable: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("store path %s is not a directory", dir)
		}
	}
	return nil
}
