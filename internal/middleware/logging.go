package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// requestAnnotations は内側のハンドラーからアクセスログに渡す値。
type requestAnnotations struct {
	wallet string
}

var annotationsContextKey = contextKey("log_annotations")

// AnnotateWallet はアクセスログに出力するウォレットを設定する。
// ロギングミドルウェアを通過していないコンテキストでは何もしない。
func AnnotateWallet(ctx context.Context, wallet string) {
	if ann, ok := ctx.Value(annotationsContextKey).(*requestAnnotations); ok {
		ann.wallet = wallet
	}
}

// annotatedWallet はAnnotateWalletで設定されたウォレットを返す。
func annotatedWallet(r *http.Request) string {
	if ann, ok := r.Context().Value(annotationsContextKey).(*requestAnnotations); ok {
		return ann.wallet
	}
	return ""
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、wallet（ログイン済みの場合）を含む。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ann := &requestAnnotations{}
			r = r.WithContext(context.WithValue(r.Context(), annotationsContextKey, ann))

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			// ログイン済みの場合はウォレットを追加
			if ann.wallet != "" {
				attrs = append(attrs, slog.String("wallet", ann.wallet))
			}

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			// slog.Attr をany スライスに変換
			args := make([]any, len(attrs))
			for i, attr := range attrs {
				args[i] = attr
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
