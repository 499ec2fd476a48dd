// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, link, external, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotLinked           = "NOT_LINKED"
	ErrCodeAlreadyLinked       = "ALREADY_LINKED"
	ErrCodeIdentityNotFound    = "IDENTITY_NOT_FOUND"
	ErrCodeExternalUnavailable = "EXTERNAL_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodePersistenceFailure  = "PERSISTENCE_FAILURE"
	ErrCodeInvalidOnlineID     = "INVALID_ONLINE_ID"
)

// NewNotLinkedError はPSNアカウントが解決できない場合のエラーを生成する。
func NewNotLinkedError(onlineID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotLinked,
		Message:  fmt.Sprintf("PSNアカウントを解決できませんでした: %s", onlineID),
		Category: "link",
		Action:   "PSNオンラインIDが正しいか、プロフィールが公開されているか確認してください。",
	}
}

// NewAlreadyLinkedError は既に紐付け済みの場合のエラーを生成する。
func NewAlreadyLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyLinked,
		Message:  "このユーザーまたはPSNオンラインIDは既に紐付けられています。",
		Category: "link",
		Action:   "既存の紐付けを解除してから再度登録してください。",
	}
}

// NewIdentityNotFoundError はアイデンティティが見つからない場合のエラーを生成する。
func NewIdentityNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  fmt.Sprintf("指定されたアイデンティティが見つかりません: %s", id),
		Category: "link",
		Action:   "アイデンティティIDを確認してください。",
	}
}

// NewExternalUnavailableError は外部サービスのエラーを生成する。
// 回復可能なエラーであり、次回のスケジュールサイクルで再試行される。
func NewExternalUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeExternalUnavailable,
		Message:  fmt.Sprintf("外部サービスへのアクセスに失敗しました: %s", reason),
		Category: "external",
		Action:   "しばらく待ってから再度お試しください。次回の定期チェックでも自動的に再試行されます。",
	}
}

// NewRateLimitedError は外部サービスのレート制限エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "外部サービスのレート制限に達しました。",
		Category: "external",
		Action:   "次回の定期チェックまでお待ちください。",
	}
}

// NewPersistenceFailureError は永続化失敗エラーを生成する。
// このサイクルのチェックは失敗するが、部分的な状態は残らない（全件または0件）。
func NewPersistenceFailureError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailure,
		Message:  fmt.Sprintf("トロフィーの保存に失敗しました: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidOnlineIDError は無効なPSNオンラインIDエラーを生成する。
func NewInvalidOnlineIDError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOnlineID,
		Message:  fmt.Sprintf("無効なPSNオンラインIDです: %s", reason),
		Category: "validation",
		Action:   "3〜16文字の英数字・ハイフン・アンダースコアで指定してください。",
	}
}
