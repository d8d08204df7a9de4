package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type countingReporter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingReporter) RecordStoreCorruption(store string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[store]++
}

func (r *countingReporter) count(store string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[store]
}

func TestFileParticipantRepo_ImplementsInterface(t *testing.T) {
	var _ ParticipantRepository = (*FileParticipantRepo)(nil)
}

func TestFileParticipantRepo_List_MissingFile_ReturnsEmpty(t *testing.T) {
	repo := NewFileParticipantRepo(filepath.Join(t.TempDir(), "participants.json"), nil)

	participants, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(participants) != 0 {
		t.Errorf("len = %d, want 0", len(participants))
	}
}

func TestFileParticipantRepo_Admit_FirstParticipantGetsPositionOne(t *testing.T) {
	ctx := context.Background()
	repo := NewFileParticipantRepo(filepath.Join(t.TempDir(), "participants.json"), nil)
	now := time.Date(2026, 10, 18, 12, 30, 0, 0, time.Local)

	admitted, p, err := repo.Admit(ctx, "WalletA", now)
	if err != nil {
		t.Fatalf("Admit returned error: %v", err)
	}
	if !admitted {
		t.Error("expected admitted = true")
	}
	if p.Position != 1 {
		t.Errorf("Position = %d, want 1", p.Position)
	}
	if !p.JoinedAt.Equal(now) {
		t.Errorf("JoinedAt = %v, want %v", p.JoinedAt, now)
	}

	count, _ := repo.Count(ctx)
	if count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}

func TestFileParticipantRepo_Admit_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewFileParticipantRepo(filepath.Join(t.TempDir(), "participants.json"), nil)

	_, first, err := repo.Admit(ctx, "WalletA", time.Now())
	if err != nil {
		t.Fatalf("first Admit returned error: %v", err)
	}
	admitted, second, err := repo.Admit(ctx, "WalletA", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("second Admit returned error: %v", err)
	}

	if admitted {
		t.Error("expected admitted = false on second call")
	}
	if second.Position != first.Position {
		t.Errorf("Position = %d, want %d", second.Position, first.Position)
	}
	if !second.JoinedAt.Equal(first.JoinedAt) {
		t.Errorf("JoinedAt changed: %v -> %v", first.JoinedAt, second.JoinedAt)
	}

	count, _ := repo.Count(ctx)
	if count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}

func TestFileParticipantRepo_Admit_PositionsFollowInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewFileParticipantRepo(filepath.Join(t.TempDir(), "participants.json"), nil)

	wallets := []string{"WalletA", "WalletB", "WalletC", "WalletD"}
	for _, w := range wallets {
		if _, _, err := repo.Admit(ctx, w, time.Now()); err != nil {
			t.Fatalf("Admit(%s) returned error: %v", w, err)
		}
	}

	participants, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	for i, p := range participants {
		if p.Wallet != wallets[i] {
			t.Errorf("participants[%d].Wallet = %q, want %q", i, p.Wallet, wallets[i])
		}
		if p.Position != i+1 {
			t.Errorf("participants[%d].Position = %d, want %d", i, p.Position, i+1)
		}
	}

	found, err := repo.FindByWallet(ctx, "WalletC")
	if err != nil {
		t.Fatalf("FindByWallet returned error: %v", err)
	}
	if found == nil || found.Position != 3 {
		t.Errorf("FindByWallet(WalletC) = %+v, want position 3", found)
	}

	missing, err := repo.FindByWallet(ctx, "WalletZ")
	if err != nil {
		t.Fatalf("FindByWallet returned error: %v", err)
	}
	if missing != nil {
		t.Errorf("FindByWallet(WalletZ) = %+v, want nil", missing)
	}
}

func TestFileParticipantRepo_WritesReferenceFormat(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "participants.json")
	repo := NewFileParticipantRepo(path, nil)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)

	if _, _, err := repo.Admit(ctx, "WalletA", now); err != nil {
		t.Fatalf("Admit returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read ledger file: %v", err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("ledger file is not a JSON array: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("len = %d, want 1", len(raw))
	}
	if raw[0]["wallet"] != "WalletA" {
		t.Errorf("wallet = %v, want WalletA", raw[0]["wallet"])
	}
	if raw[0]["joined_at"] != "2026-01-02 03:04:05" {
		t.Errorf("joined_at = %v, want 2026-01-02 03:04:05", raw[0]["joined_at"])
	}
	if raw[0]["position"] != float64(1) {
		t.Errorf("position = %v, want 1", raw[0]["position"])
	}
}

func TestFileParticipantRepo_CorruptFile_TreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "participants.json")
	if err := os.WriteFile(path, []byte("\x00not json{"), 0o600); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}
	reporter := &countingReporter{}
	repo := NewFileParticipantRepo(path, reporter)

	participants, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(participants) != 0 {
		t.Errorf("len = %d, want 0", len(participants))
	}
	if reporter.count("ledger") == 0 {
		t.Error("expected corruption to be reported")
	}

	admitted, p, err := repo.Admit(ctx, "WalletA", time.Now())
	if err != nil {
		t.Fatalf("Admit returned error: %v", err)
	}
	if !admitted || p.Position != 1 {
		t.Errorf("Admit = (%v, %d), want (true, 1)", admitted, p.Position)
	}
}

func TestFileParticipantRepo_Admit_DetectsPositionGap(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "participants.json")
	corrupt := `[{"wallet":"A","joined_at":"2026-01-01 00:00:00","position":1},` +
		`{"wallet":"B","joined_at":"2026-01-01 00:00:01","position":1}]`
	if err := os.WriteFile(path, []byte(corrupt), 0o600); err != nil {
		t.Fatalf("failed to write ledger: %v", err)
	}
	repo := NewFileParticipantRepo(path, nil)

	_, _, err := repo.Admit(ctx, "WalletC", time.Now())
	if !errors.Is(err, ErrPositionConflict) {
		t.Fatalf("error = %v, want ErrPositionConflict", err)
	}

	count, _ := repo.Count(ctx)
	if count != 2 {
		t.Errorf("Count = %d, want 2 (ledger must not be rewritten)", count)
	}
}

func TestFileParticipantRepo_Admit_WriteFailureIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "participants.json")
	repo := NewFileParticipantRepo(path, nil)

	_, _, err := repo.Admit(context.Background(), "WalletA", time.Now())
	if !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("error = %v, want ErrStoreWrite", err)
	}
}

func TestFileParticipantRepo_ConcurrentAdmissions_NoLostOrDuplicatePositions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "participants.json")

	// 2つのインスタンスで別プロセスからの同時書き込みを模擬する
	repos := []*FileParticipantRepo{
		NewFileParticipantRepo(path, nil),
		NewFileParticipantRepo(path, nil),
	}

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			repo := repos[i%len(repos)]
			if _, _, err := repo.Admit(ctx, fmt.Sprintf("Wallet%02d", i), time.Now()); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Admit returned error: %v", err)
	}

	participants, err := NewFileParticipantRepo(path, nil).List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(participants) != n {
		t.Fatalf("len = %d, want %d", len(participants), n)
	}
	seen := make(map[string]bool)
	for i, p := range participants {
		if p.Position != i+1 {
			t.Errorf("participants[%d].Position = %d, want %d", i, p.Position, i+1)
		}
		if seen[p.Wallet] {
			t.Errorf("duplicate wallet %s", p.Wallet)
		}
		seen[p.Wallet] = true
	}
}

func TestFileParticipantRepo_ReadAfterWriteSeesNewState(t *testing.T) {
	ctx := context.Background()
	repo := NewFileParticipantRepo(filepath.Join(t.TempDir(), "participants.json"), nil)

	for i := 1; i <= 3; i++ {
		if _, _, err := repo.Admit(ctx, fmt.Sprintf("Wallet%d", i), time.Now()); err != nil {
			t.Fatalf("Admit returned error: %v", err)
		}
		count, err := repo.Count(ctx)
		if err != nil {
			t.Fatalf("Count returned error: %v", err)
		}
		if count != i {
			t.Errorf("Count after %d admissions = %d", i, count)
		}
	}
}

// TestFileParticipantRepo_Admit_SeesSameSizeForeignRewrite は他プロセスが同じサイズで
// 書き換えmtimeを戻した場合でも、登録時に最新の内容を読み直すことを検証する。
func TestFileParticipantRepo_Admit_SeesSameSizeForeignRewrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "participants.json")
	repo := NewFileParticipantRepo(path, nil)

	if _, _, err := repo.Admit(ctx, "AAAA", time.Now()); err != nil {
		t.Fatalf("Admit returned error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if err := os.WriteFile(path, bytes.ReplaceAll(data, []byte("AAAA"), []byte("BBBB")), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	admitted, p, err := repo.Admit(ctx, "CCCC", time.Now())
	if err != nil {
		t.Fatalf("Admit returned error: %v", err)
	}
	if !admitted || p.Position != 2 {
		t.Fatalf("Admit = (%v, position %d), want (true, 2)", admitted, p.Position)
	}

	participants, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("len(participants) = %d, want 2", len(participants))
	}
	if participants[0].Wallet != "BBBB" {
		t.Errorf("participants[0].Wallet = %q, want %q (foreign write was overwritten)", participants[0].Wallet, "BBBB")
	}
	if participants[1].Wallet != "CCCC" {
		t.Errorf("participants[1].Wallet = %q, want %q", participants[1].Wallet, "CCCC")
	}
}
