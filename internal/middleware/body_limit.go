package middleware

import "net/http"

// NewBodyLimitMiddleware は状態変更リクエストのボディをmaxBytesまでに制限するミドルウェアを返す。
// CSRF検証などボディを読む処理より前に配置する。
func NewBodyLimitMiddleware(maxBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && !isSafeMethod(r.Method) {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
