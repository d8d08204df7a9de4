package repository

import (
	"context"
	"maps"
	"time"

	"github.com/hitoshi/waitlist/internal/model"
)

// authEntry はセッションファイル上の1エントリ。
type authEntry struct {
	LastLogin string `json:"last_login"`
}

// FileAuthRepo はJSONオブジェクトファイルを使用した入場記録ストア。
// 記録のたびにファイル全体を書き換える。
type FileAuthRepo struct {
	file *jsonFile[map[string]authEntry]
}

// NewFileAuthRepo はFileAuthRepoを生成する。
// reporterはnilでもよい。
func NewFileAuthRepo(path string, reporter CorruptionReporter) *FileAuthRepo {
	return &FileAuthRepo{
		file: newJSONFile("session", path, maps.Clone[map[string]authEntry], reporter),
	}
}

// List は全記録を返す。
func (r *FileAuthRepo) List(_ context.Context) (map[string]*model.AuthRecord, error) {
	entries, err := r.file.load()
	if err != nil {
		return nil, err
	}

	records := make(map[string]*model.AuthRecord, len(entries))
	for wallet, e := range entries {
		records[wallet] = &model.AuthRecord{
			Wallet:    wallet,
			LastLogin: parseTimestamp(e.LastLogin),
		}
	}
	return records, nil
}

// Record はlast_loginを更新する。
func (r *FileAuthRepo) Record(_ context.Context, wallet string, now time.Time) error {
	return r.file.update(func(entries map[string]authEntry) (map[string]authEntry, bool, error) {
		if entries == nil {
			entries = make(map[string]authEntry)
		}
		entries[wallet] = authEntry{LastLogin: now.Format(model.TimestampLayout)}
		return entries, true, nil
	})
}

// Exists は指定ウォレットの記録が存在するかを返す。
func (r *FileAuthRepo) Exists(_ context.Context, wallet string) (bool, error) {
	entries, err := r.file.load()
	if err != nil {
		return false, err
	}
	_, ok := entries[wallet]
	return ok, nil
}

// compile-time interface check
var _ AuthRepository = (*FileAuthRepo)(nil)
