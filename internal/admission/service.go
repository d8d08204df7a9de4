// Package admission はウェイトリストへの入場、セッション復元、台帳の参照を提供する。
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/waitlist/internal/credential"
	"github.com/hitoshi/waitlist/internal/metrics"
	"github.com/hitoshi/waitlist/internal/model"
	"github.com/hitoshi/waitlist/internal/repository"
	"github.com/hitoshi/waitlist/internal/token"
)

// ServiceConfig は入場サービスの設定。
type ServiceConfig struct {
	Capacity int // 定員。残り枠の計算にのみ使用する
}

// Session はリクエスト単位のセッションコンテキスト。
// リクエストごとに生成し、リクエスト終了時に破棄する。
type Session struct {
	Wallet   string
	Restored bool // トークンから復元された場合true
}

// LoggedIn はセッションがログイン済みかを返す。
func (s *Session) LoggedIn() bool {
	return s != nil && s.Wallet != ""
}

// Outcome はログイン試行の結果。
type Outcome struct {
	Accepted       bool // 形式検証を通過、または入場済みとして受理された
	Admitted       bool // 今回新たに台帳へ追加された
	Bypassed       bool // 入場記録があるため形式検証を省略した
	Participant    *model.Participant
	Token          string
	Total          int
	SpotsRemaining int
}

// Dashboard はダッシュボード表示用の台帳の状態。
type Dashboard struct {
	Wallet         string
	Position       int // 台帳に存在しない場合は0
	Total          int
	Capacity       int
	SpotsRemaining int
	Participants   []*model.Participant
}

// Service は入場に関するビジネスロジックを提供する。
type Service struct {
	ledger   repository.ParticipantRepository
	sessions repository.AuthRepository
	codec    token.Codec
	metrics  metrics.MetricsCollector
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(
	ledger repository.ParticipantRepository,
	sessions repository.AuthRepository,
	codec token.Codec,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		ledger:   ledger,
		sessions: sessions,
		codec:    codec,
		metrics:  collector,
		config:   config,
		now:      time.Now,
	}
}

// Login はウォレットの入場を処理する。
// 入場記録が既にあるウォレットは形式検証を省略する。
// 形式検証に失敗した場合はAccepted=falseの結果を返し、エラーにはしない。
// 永続化に失敗した場合はエラーを返し、入場成功としては扱わない。
func (s *Service) Login(ctx context.Context, wallet, secret string) (*Outcome, error) {
	if wallet == "" {
		s.metrics.RecordLogin(metrics.OutcomeRejected)
		return &Outcome{}, nil
	}

	// 1. 入場記録の確認
	known, err := s.sessions.Exists(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to check session record: %w", err)
	}

	// 2. 未知のウォレットのみ形式検証
	if !known && !credential.Validate(wallet, secret) {
		s.metrics.RecordLogin(metrics.OutcomeRejected)
		return &Outcome{}, nil
	}

	// 3. 台帳への登録と入場記録
	now := s.now()
	admitted, participant, err := s.admit(ctx, wallet, now)
	if err != nil {
		return nil, err
	}

	// 4. クライアント保持トークンの発行
	tok, err := s.codec.Encode(wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session token: %w", err)
	}

	total, err := s.ledger.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count participants: %w", err)
	}
	s.metrics.SetLedgerSize(total)

	if admitted {
		s.metrics.RecordLogin(metrics.OutcomeAdmitted)
		slog.Info("participant admitted",
			slog.String("wallet", wallet),
			slog.Int("position", participant.Position),
		)
	} else {
		s.metrics.RecordLogin(metrics.OutcomeReturning)
		slog.Info("participant logged in",
			slog.String("wallet", wallet),
			slog.Int("position", participant.Position),
			slog.Bool("bypassed", known),
		)
	}

	return &Outcome{
		Accepted:       true,
		Admitted:       admitted,
		Bypassed:       known,
		Participant:    participant,
		Token:          tok,
		Total:          total,
		SpotsRemaining: SpotsRemaining(s.config.Capacity, total),
	}, nil
}

// admit は台帳と入場記録を更新する。
// ストアが同一トランザクションでの更新に対応していればそれを使い、
// そうでなければ台帳、入場記録の順に書き込む。
func (s *Service) admit(ctx context.Context, wallet string, now time.Time) (bool, *model.Participant, error) {
	if atomic, ok := s.ledger.(repository.AtomicAdmitter); ok {
		admitted, p, err := atomic.AdmitAndRecord(ctx, wallet, now)
		if err != nil {
			return false, nil, fmt.Errorf("failed to admit participant: %w", err)
		}
		return admitted, p, nil
	}

	admitted, p, err := s.ledger.Admit(ctx, wallet, now)
	if err != nil {
		return false, nil, fmt.Errorf("failed to admit participant: %w", err)
	}

	// 台帳のみ書き込まれた状態は次回ログインかReconcileで修復される
	if err := s.sessions.Record(ctx, wallet, now); err != nil {
		slog.Error("ledger and session store diverged",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		return false, nil, fmt.Errorf("failed to record session: %w", err)
	}
	return admitted, p, nil
}

// Restore はクライアント保持トークンからセッションを復元する。
// デコードできない場合は未ログインのセッションとfalseを返す。
// 呼び出し側はfalseの場合トークンを破棄すること。
func (s *Service) Restore(tok string) (*Session, bool) {
	if tok == "" {
		return &Session{}, false
	}

	wallet, err := s.codec.Decode(tok)
	if err != nil || wallet == "" {
		s.metrics.RecordTokenRejection()
		slog.Warn("discarding undecodable session token",
			slog.String("error", fmt.Sprint(err)),
		)
		return &Session{}, false
	}

	return &Session{Wallet: wallet, Restored: true}, true
}

// HasSession は指定ウォレットの入場記録が存在するかを返す。
func (s *Service) HasSession(ctx context.Context, wallet string) (bool, error) {
	return s.sessions.Exists(ctx, wallet)
}

// PositionOf は指定ウォレットの順位を返す。台帳に存在しない場合はfalseを返す。
func (s *Service) PositionOf(ctx context.Context, wallet string) (int, bool, error) {
	p, err := s.ledger.FindByWallet(ctx, wallet)
	if err != nil {
		return 0, false, fmt.Errorf("failed to find participant: %w", err)
	}
	if p == nil {
		return 0, false, nil
	}
	return p.Position, true, nil
}

// Participants は台帳全体を登録順に返す。
func (s *Service) Participants(ctx context.Context) ([]*model.Participant, error) {
	participants, err := s.ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}

// Dashboard は指定ウォレットから見た台帳の状態を返す。
func (s *Service) Dashboard(ctx context.Context, wallet string) (*Dashboard, error) {
	participants, err := s.Participants(ctx)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		Wallet:         wallet,
		Total:          len(participants),
		Capacity:       s.config.Capacity,
		SpotsRemaining: SpotsRemaining(s.config.Capacity, len(participants)),
		Participants:   participants,
	}
	for _, p := range participants {
		if p.Wallet == wallet {
			d.Position = p.Position
			break
		}
	}
	return d, nil
}

// Reconcile は台帳に存在するが入場記録がないウォレットの記録を補完する。
// 台帳と入場記録を別々に永続化するストアで、書き込みが片方だけ成功した場合の修復に使う。
// 補完した件数を返す。
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	participants, err := s.ledger.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list participants: %w", err)
	}
	records, err := s.sessions.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list session records: %w", err)
	}

	now := s.now()
	repaired := 0
	for _, p := range participants {
		if _, ok := records[p.Wallet]; ok {
			continue
		}
		if err := s.sessions.Record(ctx, p.Wallet, now); err != nil {
			return repaired, fmt.Errorf("failed to record session for %s: %w", p.Wallet, err)
		}
		repaired++
	}

	if repaired > 0 {
		slog.Info("reconciled session records", slog.Int("repaired", repaired))
	}
	return repaired, nil
}

// SpotsRemaining は残り枠を返す。定員超過時は0に丸める。
func SpotsRemaining(capacity, size int) int {
	if size >= capacity {
		return 0
	}
	return capacity - size
}
