package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/waitlist/internal/admission"
	"github.com/hitoshi/waitlist/internal/middleware"
	"github.com/hitoshi/waitlist/internal/model"
)

// WaitlistServiceInterface はウェイトリスト参照ハンドラーが必要とするサービスインターフェース。
type WaitlistServiceInterface interface {
	Dashboard(ctx context.Context, wallet string) (*admission.Dashboard, error)
	Participants(ctx context.Context) ([]*model.Participant, error)
}

// WaitlistHandler は台帳参照のHTTPハンドラー。
type WaitlistHandler struct {
	service WaitlistServiceInterface
}

// NewWaitlistHandler はWaitlistHandlerを生成する。
func NewWaitlistHandler(service WaitlistServiceInterface) *WaitlistHandler {
	return &WaitlistHandler{service: service}
}

// participantResponse は参加者1件のレスポンス表現。
type participantResponse struct {
	Position int    `json:"position"`
	Wallet   string `json:"wallet"`
	JoinedAt string `json:"joined_at"`
}

type dashboardResponse struct {
	Wallet         string                `json:"wallet"`
	Position       int                   `json:"position"`
	Total          int                   `json:"total"`
	Capacity       int                   `json:"capacity"`
	SpotsRemaining int                   `json:"spots_remaining"`
	Participants   []participantResponse `json:"participants"`
}

type participantsResponse struct {
	Total        int                   `json:"total"`
	Participants []participantResponse `json:"participants"`
}

// Dashboard はログイン中のウォレットから見た台帳の状態を返す。
// GET /api/dashboard
func (h *WaitlistHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	wallet, err := middleware.WalletFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	d, err := h.service.Dashboard(r.Context(), wallet)
	if err != nil {
		slog.Error("failed to build dashboard",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, dashboardResponse{
		Wallet:         d.Wallet,
		Position:       d.Position,
		Total:          d.Total,
		Capacity:       d.Capacity,
		SpotsRemaining: d.SpotsRemaining,
		Participants:   toParticipantResponses(d.Participants),
	})
}

// ListParticipants は台帳全体を登録順に返す。
// GET /api/participants
func (h *WaitlistHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.service.Participants(r.Context())
	if err != nil {
		slog.Error("failed to list participants", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, participantsResponse{
		Total:        len(participants),
		Participants: toParticipantResponses(participants),
	})
}

func toParticipantResponses(participants []*model.Participant) []participantResponse {
	out := make([]participantResponse, 0, len(participants))
	for _, p := range participants {
		out = append(out, participantResponse{
			Position: p.Position,
			Wallet:   p.Wallet,
			JoinedAt: p.JoinedAt.Format(model.TimestampLayout),
		})
	}
	return out
}
