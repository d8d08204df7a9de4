// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/waitlist/internal/model"
)

var (
	// ErrPositionConflict は台帳の順位が1..Nの連番になっていない、
	// または同一順位への書き込みが衝突したことを表す。
	ErrPositionConflict = errors.New("participant position conflict")

	// ErrStoreWrite は永続化ストアへの書き込み失敗を表す。
	ErrStoreWrite = errors.New("store write failed")
)

// ParticipantRepository は参加者台帳の永続化インターフェース。
// 追記専用で、削除操作は持たない。
type ParticipantRepository interface {
	// List は全参加者を登録順に返す。ストアが空・未作成・破損の場合は空スライスを返す。
	List(ctx context.Context) ([]*model.Participant, error)

	// Admit はウォレットを冪等に登録する。
	// 既に登録済みの場合は台帳を変更せず (false, 既存レコード) を返す。
	// 未登録の場合は順位 = 現在の件数 + 1 で追加し (true, 新規レコード) を返す。
	Admit(ctx context.Context, wallet string, now time.Time) (bool, *model.Participant, error)

	// FindByWallet は指定ウォレットの参加者を取得する。見つからない場合はnilを返す。
	FindByWallet(ctx context.Context, wallet string) (*model.Participant, error)

	// Count は現在の参加者数を返す。
	Count(ctx context.Context) (int, error)
}

// AuthRepository は入場済みウォレットの記録の永続化インターフェース。
type AuthRepository interface {
	// List は全記録をウォレットをキーとするマップで返す。
	List(ctx context.Context) (map[string]*model.AuthRecord, error)

	// Record はlast_loginをnowで上書きするUPSERTを行う。
	Record(ctx context.Context, wallet string, now time.Time) error

	// Exists は指定ウォレットの記録が存在するかを返す。
	Exists(ctx context.Context, wallet string) (bool, error)
}

// AtomicAdmitter は参加者登録と入場記録を同一トランザクションで行えるストアが実装する。
type AtomicAdmitter interface {
	AdmitAndRecord(ctx context.Context, wallet string, now time.Time) (bool, *model.Participant, error)
}

// CorruptionReporter は読み込み不能なストアを検出した際の通知先。
type CorruptionReporter interface {
	RecordStoreCorruption(store string)
}

// verifyPositions は登録順に並んだ参加者の順位が1..Nの連番であることを検証する。
func verifyPositions(participants []*model.Participant) error {
	for i, p := range participants {
		if p.Position != i+1 {
			return ErrPositionConflict
		}
	}
	return nil
}
