package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/waitlist/internal/model"
)

// PostgresAuthRepo はPostgreSQLを使用した入場記録ストア。
type PostgresAuthRepo struct {
	db *sql.DB
}

// NewPostgresAuthRepo はPostgresAuthRepoを生成する。
func NewPostgresAuthRepo(db *sql.DB) *PostgresAuthRepo {
	return &PostgresAuthRepo{db: db}
}

// List は全記録を返す。
func (r *PostgresAuthRepo) List(ctx context.Context) (map[string]*model.AuthRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT wallet, last_login FROM auth_records`)
	if err != nil {
		return nil, fmt.Errorf("failed to list auth records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]*model.AuthRecord)
	for rows.Next() {
		rec := &model.AuthRecord{}
		if err := rows.Scan(&rec.Wallet, &rec.LastLogin); err != nil {
			return nil, fmt.Errorf("failed to scan auth record: %w", err)
		}
		records[rec.Wallet] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auth records: %w", err)
	}

	return records, nil
}

// Record はlast_loginを冪等にUPSERTする。
func (r *PostgresAuthRepo) Record(ctx context.Context, wallet string, now time.Time) error {
	return recordAuth(ctx, r.db, wallet, now)
}

// Exists は指定ウォレットの記録が存在するかを返す。
func (r *PostgresAuthRepo) Exists(ctx context.Context, wallet string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM auth_records WHERE wallet = $1)`,
		wallet,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check auth record: %w", err)
	}
	return exists, nil
}

// execer は*sql.DBと*sql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func recordAuth(ctx context.Context, db execer, wallet string, now time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO auth_records (wallet, last_login) VALUES ($1, $2)
		 ON CONFLICT (wallet) DO UPDATE SET last_login = EXCLUDED.last_login`,
		wallet, now,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to record auth: %w", ErrStoreWrite, err)
	}
	return nil
}

// compile-time interface check
var _ AuthRepository = (*PostgresAuthRepo)(nil)
