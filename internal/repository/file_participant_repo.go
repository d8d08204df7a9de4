package repository

import (
	"context"
	"time"

	"github.com/hitoshi/waitlist/internal/model"
)

// participantRecord は台帳ファイル上の1レコード。
type participantRecord struct {
	Wallet   string `json:"wallet"`
	JoinedAt string `json:"joined_at"`
	Position int    `json:"position"`
}

// FileParticipantRepo はJSON配列ファイルを使用した参加者台帳。
// 登録のたびに台帳全体を書き換える。
type FileParticipantRepo struct {
	file *jsonFile[[]participantRecord]
}

// NewFileParticipantRepo はFileParticipantRepoを生成する。
// reporterはnilでもよい。
func NewFileParticipantRepo(path string, reporter CorruptionReporter) *FileParticipantRepo {
	return &FileParticipantRepo{
		file: newJSONFile("ledger", path, cloneParticipantRecords, reporter),
	}
}

// List は全参加者を登録順に返す。
func (r *FileParticipantRepo) List(_ context.Context) ([]*model.Participant, error) {
	records, err := r.file.load()
	if err != nil {
		return nil, err
	}

	participants := make([]*model.Participant, 0, len(records))
	for _, rec := range records {
		participants = append(participants, rec.toModel())
	}
	return participants, nil
}

// Admit はウォレットを冪等に登録する。
// 既存レコードの順位が1..Nの連番でない場合は書き込まずにErrPositionConflictを返す。
func (r *FileParticipantRepo) Admit(_ context.Context, wallet string, now time.Time) (bool, *model.Participant, error) {
	var (
		admitted bool
		result   *model.Participant
	)

	err := r.file.update(func(records []participantRecord) ([]participantRecord, bool, error) {
		participants := make([]*model.Participant, 0, len(records))
		for _, rec := range records {
			if rec.Wallet == wallet {
				result = rec.toModel()
				return records, false, nil
			}
			participants = append(participants, rec.toModel())
		}
		if err := verifyPositions(participants); err != nil {
			return nil, false, err
		}

		rec := participantRecord{
			Wallet:   wallet,
			JoinedAt: now.Format(model.TimestampLayout),
			Position: len(records) + 1,
		}
		admitted = true
		result = rec.toModel()
		return append(records, rec), true, nil
	})
	if err != nil {
		return false, nil, err
	}

	return admitted, result, nil
}

// FindByWallet は指定ウォレットの参加者を取得する。見つからない場合はnilを返す。
func (r *FileParticipantRepo) FindByWallet(_ context.Context, wallet string) (*model.Participant, error) {
	records, err := r.file.load()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Wallet == wallet {
			return rec.toModel(), nil
		}
	}
	return nil, nil
}

// Count は現在の参加者数を返す。
func (r *FileParticipantRepo) Count(_ context.Context) (int, error) {
	records, err := r.file.load()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (rec participantRecord) toModel() *model.Participant {
	return &model.Participant{
		Wallet:   rec.Wallet,
		JoinedAt: parseTimestamp(rec.JoinedAt),
		Position: rec.Position,
	}
}

func cloneParticipantRecords(records []participantRecord) []participantRecord {
	if records == nil {
		return nil
	}
	out := make([]participantRecord, len(records))
	copy(out, records)
	return out
}

// parseTimestamp はファイル上の日時文字列をローカル時刻として解釈する。
// 解釈できない値はゼロ値とし、レコード自体は破棄しない。
func parseTimestamp(s string) time.Time {
	t, err := time.ParseInLocation(model.TimestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// compile-time interface check
var _ ParticipantRepository = (*FileParticipantRepo)(nil)
