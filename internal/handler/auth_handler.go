// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/hitoshi/waitlist/internal/admission"
	"github.com/hitoshi/waitlist/internal/middleware"
	"github.com/hitoshi/waitlist/internal/model"
	"github.com/hitoshi/waitlist/internal/notify"
	"github.com/hitoshi/waitlist/internal/repository"
)

// maxRequestBodyBytes はAPIリクエストボディの上限。
const maxRequestBodyBytes = 4096

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, wallet, secret string) (*admission.Outcome, error)
}

// AuthHandler はログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	notifier notify.Notifier
	cookie   middleware.CookieConfig
}

// NewAuthHandler はAuthHandlerを生成する。
// notifierがnilの場合は通知しない。
func NewAuthHandler(service AuthServiceInterface, notifier notify.Notifier, cookie middleware.CookieConfig) *AuthHandler {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &AuthHandler{
		service:  service,
		notifier: notifier,
		cookie:   cookie,
	}
}

// loginRequest はログインリクエストのJSON表現。
type loginRequest struct {
	Wallet string `json:"wallet"`
	Key    string `json:"key"`
}

// loginResponse はログイン成功時のレスポンス。
type loginResponse struct {
	Wallet         string `json:"wallet"`
	Position       int    `json:"position"`
	Admitted       bool   `json:"admitted"`
	Total          int    `json:"total"`
	SpotsRemaining int    `json:"spots_remaining"`
}

// meResponse はログイン状態のレスポンス。
type meResponse struct {
	LoggedIn bool   `json:"logged_in"`
	Wallet   string `json:"wallet,omitempty"`
}

// Login はウォレットとキーを受け取り入場を処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLoginRequest(w, r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストの形式が不正です。"))
		return
	}

	wallet := strings.TrimSpace(req.Wallet)
	outcome, err := h.service.Login(r.Context(), wallet, strings.TrimSpace(req.Key))
	if err != nil {
		writeLoginError(w, wallet, err)
		return
	}
	if !outcome.Accepted {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewLoginFailedError())
		return
	}

	middleware.SetTokenCookie(w, h.cookie, outcome.Token)
	middleware.AnnotateWallet(r.Context(), wallet)

	if outcome.Admitted {
		h.notifyAdmission(r.Context(), outcome)
	}

	middleware.WriteJSON(w, http.StatusOK, loginResponse{
		Wallet:         outcome.Participant.Wallet,
		Position:       outcome.Participant.Position,
		Admitted:       outcome.Admitted,
		Total:          outcome.Total,
		SpotsRemaining: outcome.SpotsRemaining,
	})
}

// Logout はトークンCookieを削除する。入場記録は残す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	middleware.ClearTokenCookie(w, h.cookie)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログイン状態を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	middleware.WriteJSON(w, http.StatusOK, meResponse{
		LoggedIn: session.LoggedIn(),
		Wallet:   session.Wallet,
	})
}

// notifyAdmission は新規入場をWebhookへ通知する。
// 通知の失敗はログに記録し、ログイン結果には影響させない。
func (h *AuthHandler) notifyAdmission(ctx context.Context, outcome *admission.Outcome) {
	p := outcome.Participant
	event := notify.NewEvent(p.Wallet, p.Position, outcome.SpotsRemaining, p.JoinedAt)
	if err := h.notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn("admission notification failed",
			slog.String("wallet", p.Wallet),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}
}

// decodeLoginRequest はJSONまたはフォームのリクエストボディを読み取る。
func decodeLoginRequest(w http.ResponseWriter, r *http.Request) (*loginRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return &loginRequest{
		Wallet: r.PostFormValue("wallet"),
		Key:    r.PostFormValue("key"),
	}, nil
}

// writeLoginError はLoginのエラーをHTTPレスポンスに変換する。
func writeLoginError(w http.ResponseWriter, wallet string, err error) {
	switch {
	case errors.Is(err, repository.ErrPositionConflict):
		slog.Error("ledger position conflict",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewPositionConflictError())
	case errors.Is(err, repository.ErrStoreWrite):
		slog.Error("failed to persist admission",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewStoreWriteFailedError())
	default:
		slog.Error("login failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}
