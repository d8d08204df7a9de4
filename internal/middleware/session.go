// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/waitlist/internal/admission"
	"github.com/hitoshi/waitlist/internal/model"
)

// TokenCookieName はクライアント保持トークンを格納するCookieの名前。
const TokenCookieName = "user_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionRestorer はトークンからのセッション復元に必要なインターフェース。
// admission.Serviceの部分集合として定義する。
type SessionRestorer interface {
	Restore(tok string) (*admission.Session, bool)
}

// CookieConfig はトークンCookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
	TTL    time.Duration
}

// NewSessionMiddleware はCookieのトークンからセッションを復元し、
// リクエストコンテキストに注入するミドルウェアを返す。
// トークンがない場合は未ログインのセッションを注入する。
// デコードできないトークンはCookieごと破棄する。
func NewSessionMiddleware(restorer SessionRestorer, config CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := &admission.Session{}

			if cookie, err := r.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
				restored, ok := restorer.Restore(cookie.Value)
				if ok {
					session = restored
					AnnotateWallet(r.Context(), session.Wallet)
				} else {
					ClearTokenCookie(w, config)
				}
			}

			ctx := ContextWithSession(r.Context(), session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession はログイン済みセッションを必須とするミドルウェアを返す。
// NewSessionMiddlewareの後に配置する。未ログインの場合は401を返す。
func RequireSession() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !SessionFromContext(r.Context()).LoggedIn() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetTokenCookie はトークンCookieを設定する。有効期間はconfig.TTLに従う。
func SetTokenCookie(w http.ResponseWriter, config CookieConfig, tok string) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    tok,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   int(config.TTL.Seconds()),
		Expires:  time.Now().Add(config.TTL),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearTokenCookie はトークンCookieを削除する。
func ClearTokenCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションがない場合は未ログインのセッションを返す。
func SessionFromContext(ctx context.Context) *admission.Session {
	if s, ok := ctx.Value(sessionContextKey).(*admission.Session); ok && s != nil {
		return s
	}
	return &admission.Session{}
}

// WalletFromContext はリクエストコンテキストからログイン中のウォレットを取得する。
func WalletFromContext(ctx context.Context) (string, error) {
	s := SessionFromContext(ctx)
	if !s.LoggedIn() {
		return "", fmt.Errorf("wallet not found in context")
	}
	return s.Wallet, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, session *admission.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}
