package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/hitoshi/waitlist/internal/database"
)

func openTestBadger(t *testing.T) *badger.DB {
	t.Helper()
	db, err := database.OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger returned error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBadgerRepos_ImplementInterfaces(t *testing.T) {
	var _ ParticipantRepository = (*BadgerParticipantRepo)(nil)
	var _ AtomicAdmitter = (*BadgerParticipantRepo)(nil)
	var _ AuthRepository = (*BadgerAuthRepo)(nil)
}

func TestBadgerParticipantRepo_AdmitIdempotentAndOrdered(t *testing.T) {
	ctx := context.Background()
	repo := NewBadgerParticipantRepo(openTestBadger(t))

	wallets := []string{"WalletA", "WalletB", "WalletC"}
	for i, w := range wallets {
		admitted, p, err := repo.Admit(ctx, w, time.Now())
		if err != nil {
			t.Fatalf("Admit(%s) returned error: %v", w, err)
		}
		if !admitted || p.Position != i+1 {
			t.Errorf("Admit(%s) = (%v, %d), want (true, %d)", w, admitted, p.Position, i+1)
		}
	}

	admitted, p, err := repo.Admit(ctx, "WalletA", time.Now())
	if err != nil {
		t.Fatalf("Admit returned error: %v", err)
	}
	if admitted || p.Position != 1 {
		t.Errorf("second Admit = (%v, %d), want (false, 1)", admitted, p.Position)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}

	participants, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	for i, p := range participants {
		if p.Wallet != wallets[i] || p.Position != i+1 {
			t.Errorf("participants[%d] = %+v", i, p)
		}
	}

	found, _ := repo.FindByWallet(ctx, "WalletB")
	if found == nil || found.Position != 2 {
		t.Errorf("FindByWallet(WalletB) = %+v", found)
	}
	missing, _ := repo.FindByWallet(ctx, "WalletZ")
	if missing != nil {
		t.Errorf("FindByWallet(WalletZ) = %+v, want nil", missing)
	}
}

func TestBadgerParticipantRepo_ListOrdersBeyondNinePositions(t *testing.T) {
	ctx := context.Background()
	repo := NewBadgerParticipantRepo(openTestBadger(t))

	for i := 1; i <= 12; i++ {
		if _, _, err := repo.Admit(ctx, fmt.Sprintf("W%d", i), time.Now()); err != nil {
			t.Fatalf("Admit returned error: %v", err)
		}
	}

	participants, _ := repo.List(ctx)
	for i, p := range participants {
		if p.Position != i+1 {
			t.Errorf("participants[%d].Position = %d, want %d", i, p.Position, i+1)
		}
	}
}

func TestBadgerParticipantRepo_ConcurrentAdmitAndRecord(t *testing.T) {
	ctx := context.Background()
	db := openTestBadger(t)
	repo := NewBadgerParticipantRepo(db)

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := repo.AdmitAndRecord(ctx, fmt.Sprintf("Wallet%02d", i), time.Now()); err != nil {
				t.Errorf("AdmitAndRecord returned error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	participants, err := repo.List(ctx)
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
		seen[p.Wallet] = true
	}
	if len(seen) != n {
		t.Errorf("distinct wallets = %d, want %d", len(seen), n)
	}

	records, err := NewBadgerAuthRepo(db).List(ctx)
	if err != nil {
		t.Fatalf("auth List returned error: %v", err)
	}
	if len(records) != n {
		t.Errorf("auth records = %d, want %d", len(records), n)
	}
}

func TestBadgerAuthRepo_RecordExistsList(t *testing.T) {
	ctx := context.Background()
	repo := NewBadgerAuthRepo(openTestBadger(t))

	exists, err := repo.Exists(ctx, "WalletA")
	if err != nil || exists {
		t.Fatalf("Exists = (%v, %v), want (false, nil)", exists, err)
	}

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := repo.Record(ctx, "WalletA", now); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	exists, err = repo.Exists(ctx, "WalletA")
	if err != nil || !exists {
		t.Fatalf("Exists = (%v, %v), want (true, nil)", exists, err)
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if rec := records["WalletA"]; rec == nil || !rec.LastLogin.Equal(now) {
		t.Errorf("records[WalletA] = %+v", rec)
	}
}
