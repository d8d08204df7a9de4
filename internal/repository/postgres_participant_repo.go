package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/waitlist/internal/model"
	"github.com/lib/pq"
)

// participantsLockKey は参加者登録を直列化するアドバイザリロックのキー。
const participantsLockKey int64 = 0x7761_6974_6c69_7374

// uniqueViolation はPostgreSQLのユニーク制約違反コード。
const uniqueViolation = "23505"

// PostgresParticipantRepo はPostgreSQLを使用した参加者台帳。
type PostgresParticipantRepo struct {
	db *sql.DB
}

// NewPostgresParticipantRepo はPostgresParticipantRepoを生成する。
func NewPostgresParticipantRepo(db *sql.DB) *PostgresParticipantRepo {
	return &PostgresParticipantRepo{db: db}
}

// List は全参加者を順位の昇順で返す。
func (r *PostgresParticipantRepo) List(ctx context.Context) ([]*model.Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT wallet, joined_at, position FROM participants ORDER BY position ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	participants := []*model.Participant{}
	for rows.Next() {
		p := &model.Participant{}
		if err := rows.Scan(&p.Wallet, &p.JoinedAt, &p.Position); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}

	return participants, nil
}

// Admit はウォレットを冪等に登録する。
// トランザクション内でアドバイザリロックを取得し、順位の採番を直列化する。
func (r *PostgresParticipantRepo) Admit(ctx context.Context, wallet string, now time.Time) (bool, *model.Participant, error) {
	return r.inTx(ctx, func(tx *sql.Tx) (bool, *model.Participant, error) {
		return admitTx(ctx, tx, wallet, now)
	})
}

// AdmitAndRecord は参加者登録と入場記録を同一トランザクションで行う。
func (r *PostgresParticipantRepo) AdmitAndRecord(ctx context.Context, wallet string, now time.Time) (bool, *model.Participant, error) {
	return r.inTx(ctx, func(tx *sql.Tx) (bool, *model.Participant, error) {
		admitted, p, err := admitTx(ctx, tx, wallet, now)
		if err != nil {
			return false, nil, err
		}
		if err := recordAuth(ctx, tx, wallet, now); err != nil {
			return false, nil, err
		}
		return admitted, p, nil
	})
}

// FindByWallet は指定ウォレットの参加者を取得する。見つからない場合はnilを返す。
func (r *PostgresParticipantRepo) FindByWallet(ctx context.Context, wallet string) (*model.Participant, error) {
	return findParticipant(ctx, r.db, wallet)
}

// Count は現在の参加者数を返す。
func (r *PostgresParticipantRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM participants`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

func (r *PostgresParticipantRepo) inTx(
	ctx context.Context,
	fn func(tx *sql.Tx) (bool, *model.Participant, error),
) (bool, *model.Participant, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	admitted, p, err := fn(tx)
	if err != nil {
		return false, nil, err
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("%w: failed to commit admission: %w", ErrStoreWrite, err)
	}
	return admitted, p, nil
}

// queryRower は*sql.DBと*sql.Txの共通部分。
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findParticipant(ctx context.Context, q queryRower, wallet string) (*model.Participant, error) {
	p := &model.Participant{}
	err := q.QueryRowContext(ctx,
		`SELECT wallet, joined_at, position FROM participants WHERE wallet = $1`,
		wallet,
	).Scan(&p.Wallet, &p.JoinedAt, &p.Position)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}
	return p, nil
}

func admitTx(ctx context.Context, tx *sql.Tx, wallet string, now time.Time) (bool, *model.Participant, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, participantsLockKey); err != nil {
		return false, nil, fmt.Errorf("failed to acquire admission lock: %w", err)
	}

	existing, err := findParticipant(ctx, tx, wallet)
	if err != nil {
		return false, nil, err
	}
	if existing != nil {
		return false, existing, nil
	}

	var count, maxPosition int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(max(position), 0) FROM participants`,
	).Scan(&count, &maxPosition)
	if err != nil {
		return false, nil, fmt.Errorf("failed to count participants: %w", err)
	}
	if count != maxPosition {
		return false, nil, ErrPositionConflict
	}

	p := &model.Participant{
		Wallet:   wallet,
		JoinedAt: now,
		Position: count + 1,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO participants (wallet, position, joined_at) VALUES ($1, $2, $3)`,
		p.Wallet, p.Position, p.JoinedAt,
	)
	if err != nil {
		return false, nil, mapInsertError(err)
	}

	return true, p, nil
}

// mapInsertError は順位のユニーク制約違反をErrPositionConflictに変換する。
func mapInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrPositionConflict, pqErr.Constraint)
	}
	return fmt.Errorf("%w: failed to insert participant: %w", ErrStoreWrite, err)
}

// compile-time interface check
var (
	_ ParticipantRepository = (*PostgresParticipantRepo)(nil)
	_ AtomicAdmitter        = (*PostgresParticipantRepo)(nil)
)
