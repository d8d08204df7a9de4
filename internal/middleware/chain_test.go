package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/waitlist/internal/admission"
)

// TestMiddlewareChain_ProtectedRoute はロギング、復旧、セッション、必須セッションの
// 組み合わせがchiルーター上で期待どおり動作することを検証する。
func TestMiddlewareChain_ProtectedRoute(t *testing.T) {
	var buf bytes.Buffer
	restorer := &mockRestorer{
		restoreFn: func(tok string) (*admission.Session, bool) {
			if tok == "good" {
				return &admission.Session{Wallet: "wallet-chain", Restored: true}, true
			}
			return &admission.Session{}, false
		},
	}

	r := chi.NewRouter()
	r.Use(NewLoggingMiddleware(newTestLogger(&buf)))
	r.Use(NewRecoveryMiddleware())
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewSessionMiddleware(restorer, CookieConfig{}))
	r.With(RequireSession()).Get("/api/dashboard", func(w http.ResponseWriter, r *http.Request) {
		wallet, _ := WalletFromContext(r.Context())
		w.Write([]byte(wallet))
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "good"})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if w.Body.String() != "wallet-chain" {
			t.Errorf("body = %q, want %q", w.Body.String(), "wallet-chain")
		}
		if w.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Error("expected security headers")
		}
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "bad"})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if findCookie(w.Result(), TokenCookieName) == nil {
			t.Error("expected bad token cookie to be cleared")
		}
	})

	t.Run("panic", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}
