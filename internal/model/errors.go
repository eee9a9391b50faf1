// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, document, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeLoginFailed       = "LOGIN_FAILED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeDocumentNotFound  = "DOCUMENT_NOT_FOUND"
	ErrCodeInvalidDocument   = "INVALID_DOCUMENT"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewLoginFailedError はログインコールバックの検証エラーを生成する。
// CSRFトークンの不一致やログイン状態の失効など、やり直しで解消するものに使う。
func NewLoginFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  fmt.Sprintf("ログインを完了できませんでした: %s", reason),
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewDocumentNotFoundError はドキュメント未検出エラーを生成する。
func NewDocumentNotFoundError(documentID string) *APIError {
	return &APIError{
		Code:     ErrCodeDocumentNotFound,
		Message:  fmt.Sprintf("指定されたドキュメントが見つかりません: %s", documentID),
		Category: "document",
		Action:   "ドキュメントIDを確認してください。",
	}
}

// NewInvalidDocumentError はドキュメント内容の検証エラーを生成する。
func NewInvalidDocumentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDocument,
		Message:  fmt.Sprintf("ドキュメントの内容が不正です: %s", reason),
		Category: "validation",
		Action:   "タイトルを入力し、文字数の上限を超えていないか確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
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
