package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileStamp はキャッシュの有効性判定に使うファイルの状態。
type fileStamp struct {
	modTime time.Time
	size    int64
}

// jsonFile は1つのJSONファイルを丸ごと読み書きするストア。
// 書き込みはプロセス内ミューテックスと<path>.lockへの排他ロックで直列化する。
// 読み込み結果はプロセス内にキャッシュし、書き込み時に同期的に置き換える。
type jsonFile[T any] struct {
	name     string
	path     string
	clone    func(T) T
	reporter CorruptionReporter

	mu     sync.Mutex
	cached bool
	stamp  fileStamp
	value  T
}

func newJSONFile[T any](name, path string, clone func(T) T, reporter CorruptionReporter) *jsonFile[T] {
	return &jsonFile[T]{
		name:     name,
		path:     path,
		clone:    clone,
		reporter: reporter,
	}
}

// load はファイルの内容を返す。
// ファイルが存在しない、または解析できない場合はゼロ値を返す。
func (f *jsonFile[T]) load() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, err := f.loadLocked(false)
	if err != nil {
		var zero T
		return zero, err
	}
	return f.clone(v), nil
}

// update は排他ロックを取得した上で最新の内容をfnに渡し、
// fnが変更ありと返した場合にファイル全体を書き換える。
func (f *jsonFile[T]) update(fn func(current T) (next T, changed bool, err error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	unlock, err := lockFile(f.path + ".lock")
	if err != nil {
		return fmt.Errorf("%w: failed to lock %s store: %w", ErrStoreWrite, f.name, err)
	}
	defer unlock()

	// ロック保持中は他プロセスの書き込みを取りこぼさないよう必ずディスクから読む
	current, err := f.loadLocked(true)
	if err != nil {
		return err
	}

	next, changed, err := fn(f.clone(current))
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	stamp, err := f.writeLocked(next)
	if err != nil {
		// 書き込み結果が不明なため次回はディスクから読み直す
		f.cached = false
		return err
	}

	f.value = f.clone(next)
	f.stamp = stamp
	f.cached = true
	return nil
}

// loadLocked はファイルを読み込む。forceがfalseの場合はmtimeとサイズが
// 前回と同じであればキャッシュを返す。
func (f *jsonFile[T]) loadLocked(force bool) (T, error) {
	var zero T

	info, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.cached = false
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("failed to stat %s store: %w", f.name, err)
	}

	stamp := fileStamp{modTime: info.ModTime(), size: info.Size()}
	if !force && f.cached && f.stamp == stamp {
		return f.value, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		f.markCorrupt(err)
		return zero, nil
	}

	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			f.markCorrupt(err)
			v = zero
		}
	}

	f.value = v
	f.stamp = stamp
	f.cached = true
	return v, nil
}

// writeLocked は一時ファイルに書き込んでfsyncした後、renameで置き換える。
func (f *jsonFile[T]) writeLocked(v T) (fileStamp, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return fileStamp{}, fmt.Errorf("%w: failed to encode %s store: %w", ErrStoreWrite, f.name, err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fileStamp{}, fmt.Errorf("%w: failed to create temp file for %s store: %w", ErrStoreWrite, f.name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fileStamp{}, fmt.Errorf("%w: failed to write %s store: %w", ErrStoreWrite, f.name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fileStamp{}, fmt.Errorf("%w: failed to sync %s store: %w", ErrStoreWrite, f.name, err)
	}
	if err := tmp.Close(); err != nil {
		return fileStamp{}, fmt.Errorf("%w: failed to close %s store: %w", ErrStoreWrite, f.name, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fileStamp{}, fmt.Errorf("%w: failed to replace %s store: %w", ErrStoreWrite, f.name, err)
	}

	info, err := os.Stat(f.path)
	if err != nil {
		return fileStamp{}, fmt.Errorf("failed to stat %s store: %w", f.name, err)
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}, nil
}

func (f *jsonFile[T]) markCorrupt(cause error) {
	slog.Warn("store is unreadable, treating as empty",
		slog.String("store", f.name),
		slog.String("path", f.path),
		slog.String("error", cause.Error()),
	)
	if f.reporter != nil {
		f.reporter.RecordStoreCorruption(f.name)
	}
}
