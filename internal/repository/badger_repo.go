package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/hitoshi/waitlist/internal/model"
)

// badgerの競合時の再試行回数
const badgerMaxRetries = 5

var (
	participantPrefix = []byte("p/")
	positionPrefix    = []byte("s/")
	authPrefix        = []byte("a/")
	countKey          = []byte("meta/count")
)

// participantValue はbadgerに格納する参加者レコード。
type participantValue struct {
	Wallet   string    `json:"wallet"`
	JoinedAt time.Time `json:"joined_at"`
	Position int       `json:"position"`
}

// authValue はbadgerに格納する入場記録。
type authValue struct {
	LastLogin time.Time `json:"last_login"`
}

func participantKey(wallet string) []byte {
	return append(append([]byte{}, participantPrefix...), wallet...)
}

// positionKey は辞書順が順位順になるようゼロ埋めしたキーを返す。
func positionKey(position int) []byte {
	return fmt.Appendf(append([]byte{}, positionPrefix...), "%010d", position)
}

func authKey(wallet string) []byte {
	return append(append([]byte{}, authPrefix...), wallet...)
}

// BadgerParticipantRepo はbadgerを使用した参加者台帳。
// 登録はプロセス内で直列化した上でbadgerのトランザクションで行い、競合時は再試行する。
type BadgerParticipantRepo struct {
	db *badger.DB
	mu sync.Mutex
}

// NewBadgerParticipantRepo はBadgerParticipantRepoを生成する。
func NewBadgerParticipantRepo(db *badger.DB) *BadgerParticipantRepo {
	return &BadgerParticipantRepo{db: db}
}

// List は全参加者を順位の昇順で返す。
func (r *BadgerParticipantRepo) List(_ context.Context) ([]*model.Participant, error) {
	participants := []*model.Participant{}
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = positionPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var v participantValue
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("failed to decode participant: %w", err)
			}
			participants = append(participants, v.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}

// Admit はウォレットを冪等に登録する。
func (r *BadgerParticipantRepo) Admit(_ context.Context, wallet string, now time.Time) (bool, *model.Participant, error) {
	return r.update(func(txn *badger.Txn) (bool, *model.Participant, error) {
		return admitBadgerTxn(txn, wallet, now)
	})
}

// AdmitAndRecord は参加者登録と入場記録を同一トランザクションで行う。
func (r *BadgerParticipantRepo) AdmitAndRecord(_ context.Context, wallet string, now time.Time) (bool, *model.Participant, error) {
	return r.update(func(txn *badger.Txn) (bool, *model.Participant, error) {
		admitted, p, err := admitBadgerTxn(txn, wallet, now)
		if err != nil {
			return false, nil, err
		}
		if err := setJSON(txn, authKey(wallet), authValue{LastLogin: now}); err != nil {
			return false, nil, err
		}
		return admitted, p, nil
	})
}

// FindByWallet は指定ウォレットの参加者を取得する。見つからない場合はnilを返す。
func (r *BadgerParticipantRepo) FindByWallet(_ context.Context, wallet string) (*model.Participant, error) {
	var p *model.Participant
	err := r.db.View(func(txn *badger.Txn) error {
		v, found, err := getParticipant(txn, wallet)
		if err != nil || !found {
			return err
		}
		p = v.toModel()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}
	return p, nil
}

// Count は現在の参加者数を返す。
func (r *BadgerParticipantRepo) Count(_ context.Context) (int, error) {
	var count int
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		count, err = readCount(txn)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

// update は書き込みトランザクションを実行し、競合時は再試行する。
func (r *BadgerParticipantRepo) update(
	fn func(txn *badger.Txn) (bool, *model.Participant, error),
) (bool, *model.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < badgerMaxRetries; attempt++ {
		var (
			admitted bool
			p        *model.Participant
		)
		err := r.db.Update(func(txn *badger.Txn) error {
			var err error
			admitted, p, err = fn(txn)
			return err
		})
		if err == nil {
			return admitted, p, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			if errors.Is(err, ErrPositionConflict) || errors.Is(err, ErrStoreWrite) {
				return false, nil, err
			}
			return false, nil, fmt.Errorf("%w: %w", ErrStoreWrite, err)
		}
		lastErr = err
	}
	return false, nil, fmt.Errorf("%w: admission kept conflicting: %w", ErrStoreWrite, lastErr)
}

func admitBadgerTxn(txn *badger.Txn, wallet string, now time.Time) (bool, *model.Participant, error) {
	existing, found, err := getParticipant(txn, wallet)
	if err != nil {
		return false, nil, err
	}
	if found {
		return false, existing.toModel(), nil
	}

	count, err := readCount(txn)
	if err != nil {
		return false, nil, err
	}

	v := participantValue{Wallet: wallet, JoinedAt: now, Position: count + 1}
	if _, err := txn.Get(positionKey(v.Position)); err == nil {
		return false, nil, ErrPositionConflict
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil, err
	}

	if err := setJSON(txn, participantKey(wallet), v); err != nil {
		return false, nil, err
	}
	if err := setJSON(txn, positionKey(v.Position), v); err != nil {
		return false, nil, err
	}
	countBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(countBuf, uint64(v.Position))
	if err := txn.Set(countKey, countBuf); err != nil {
		return false, nil, err
	}

	return true, v.toModel(), nil
}

func getParticipant(txn *badger.Txn, wallet string) (participantValue, bool, error) {
	var v participantValue
	item, err := txn.Get(participantKey(wallet))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	})
	return v, err == nil, err
}

func readCount(txn *badger.Txn) (int, error) {
	item, err := txn.Get(countKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count int
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("invalid participant count length %d", len(val))
		}
		count = int(binary.BigEndian.Uint64(val))
		return nil
	})
	return count, err
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func (v participantValue) toModel() *model.Participant {
	return &model.Participant{
		Wallet:   v.Wallet,
		JoinedAt: v.JoinedAt,
		Position: v.Position,
	}
}

// BadgerAuthRepo はbadgerを使用した入場記録ストア。
type BadgerAuthRepo struct {
	db *badger.DB
}

// NewBadgerAuthRepo はBadgerAuthRepoを生成する。
func NewBadgerAuthRepo(db *badger.DB) *BadgerAuthRepo {
	return &BadgerAuthRepo{db: db}
}

// List は全記録を返す。
func (r *BadgerAuthRepo) List(_ context.Context) (map[string]*model.AuthRecord, error) {
	records := make(map[string]*model.AuthRecord)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = authPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			wallet := string(item.Key()[len(authPrefix):])
			var v authValue
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("failed to decode auth record: %w", err)
			}
			records[wallet] = &model.AuthRecord{Wallet: wallet, LastLogin: v.LastLogin}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list auth records: %w", err)
	}
	return records, nil
}

// Record はlast_loginを上書きする。
func (r *BadgerAuthRepo) Record(_ context.Context, wallet string, now time.Time) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, authKey(wallet), authValue{LastLogin: now})
	})
	if err != nil {
		return fmt.Errorf("%w: failed to record auth: %w", ErrStoreWrite, err)
	}
	return nil
}

// Exists は指定ウォレットの記録が存在するかを返す。
func (r *BadgerAuthRepo) Exists(_ context.Context, wallet string) (bool, error) {
	var exists bool
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(authKey(wallet))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check auth record: %w", err)
	}
	return exists, nil
}

// compile-time interface check
var (
	_ ParticipantRepository = (*BadgerParticipantRepo)(nil)
	_ AtomicAdmitter        = (*BadgerParticipantRepo)(nil)
	_ AuthRepository        = (*BadgerAuthRepo)(nil)
)
