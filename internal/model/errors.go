package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeLoginFailed      = "LOGIN_FAILED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeStoreWriteFailed = "STORE_WRITE_FAILED"
	ErrCodePositionConflict = "POSITION_CONFLICT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeCSRFFailed       = "CSRF_FAILED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewLoginFailedError はログイン失敗エラーを生成する。
// どちらの入力が不正だったかは含めない。
func NewLoginFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  "ログインに失敗しました。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUnauthorizedError は未ログイン時のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度アクセスしてください。",
	}
}

// NewStoreWriteFailedError は永続化に失敗した場合のエラーを生成する。
// この場合、登録は完了していない。
func NewStoreWriteFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreWriteFailed,
		Message:  "登録情報を保存できませんでした。登録は完了していません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPositionConflictError は順位の重複や欠番を検出した場合のエラーを生成する。
func NewPositionConflictError() *APIError {
	return &APIError{
		Code:     ErrCodePositionConflict,
		Message:  "参加者台帳の順位に不整合を検出しました。",
		Category: "system",
		Action:   "管理者に連絡してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFFailedError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "リクエストを検証できませんでした。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
