// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, project, task, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeMissingFields      = "MISSING_FIELDS"
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodeWeakPassword       = "WEAK_PASSWORD"
	ErrCodeEmailAlreadyInUse  = "EMAIL_ALREADY_IN_USE"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeProjectNotFound    = "PROJECT_NOT_FOUND"
	ErrCodeTaskNotFound       = "TASK_NOT_FOUND"
	ErrCodeInvalidStatus      = "INVALID_STATUS"
	ErrCodeInvalidDueDate     = "INVALID_DUE_DATE"
	ErrCodeFieldTooLong       = "FIELD_TOO_LONG"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエストボディが解析できない場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewMissingFieldsError は必須項目が欠けている場合のエラーを生成する。
// fieldsにはクライアントが送るべき項目名を渡す。
func NewMissingFieldsError(fields ...string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingFields,
		Message:  fmt.Sprintf("必須項目が指定されていません: %v", fields),
		Category: "validation",
		Action:   "必須項目を入力してから再度お試しください。",
	}
}

// NewInvalidEmailError はメールアドレスの形式が不正な場合のエラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "メールアドレスの形式が正しくありません。",
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewWeakPasswordError はパスワードが短すぎる場合のエラーを生成する。
func NewWeakPasswordError(minLength int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードは%d文字以上で入力してください。", minLength),
		Category: "validation",
		Action:   "より長いパスワードを設定してください。",
	}
}

// NewPasswordTooLongError はパスワードがハッシュ可能な長さを超える場合のエラーを生成する。
func NewPasswordTooLongError(maxBytes int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードは%dバイト以内で入力してください。", maxBytes),
		Category: "validation",
		Action:   "より短いパスワードを設定してください。",
	}
}

// NewEmailAlreadyInUseError は登録済みのメールアドレスで登録しようとした場合のエラーを生成する。
func NewEmailAlreadyInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyInUse,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "ログイン画面からログインしてください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが誤っている場合のエラーを生成する。
// 存在しないメールアドレスとパスワード誤りは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewUnauthorizedError は認証が必要な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "ログインしてください。",
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

// NewProjectNotFoundError はプロジェクトが見つからない場合のエラーを生成する。
// 他ユーザーのプロジェクトも同じエラーになる。
func NewProjectNotFoundError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %s", projectID),
		Category: "project",
		Action:   "プロジェクト一覧から対象を選び直してください。",
	}
}

// NewTaskNotFoundError はタスクが見つからない場合のエラーを生成する。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("指定されたタスクが見つかりません: %s", taskID),
		Category: "task",
		Action:   "タスク一覧を再読み込みしてください。",
	}
}

// NewInvalidStatusError はタスクのステータス値が不正な場合のエラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効なステータスです: %s", status),
		Category: "validation",
		Action:   "ステータスには todo、in-progress、done のいずれかを指定してください。",
	}
}

// NewInvalidDueDateError は期限日時が解析できない場合のエラーを生成する。
func NewInvalidDueDateError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDueDate,
		Message:  fmt.Sprintf("無効な期限です: %s", value),
		Category: "validation",
		Action:   "期限は 2006-01-02 または RFC 3339 形式（2006-01-02T15:04:05Z）で指定してください。",
	}
}

// NewFieldTooLongError は入力が最大文字数を超える場合のエラーを生成する。
func NewFieldTooLongError(field string, maxRunes int) *APIError {
	return &APIError{
		Code:     ErrCodeFieldTooLong,
		Message:  fmt.Sprintf("%s は%d文字以内で入力してください。", field, maxRunes),
		Category: "validation",
		Action:   "入力内容を短くしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過時のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は予期しない内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
