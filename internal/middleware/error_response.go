package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/taskman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// errorには利用者向けメッセージ、codeには機械判定用のエラーコードを入れる。
type ErrorResponseBody struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Error:    apiErr.Message,
		Code:     apiErr.Code,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
