package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外は内部エラーとしてログに残し、詳細は返さない。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest,
		model.ErrCodeMissingFields,
		model.ErrCodeInvalidEmail,
		model.ErrCodeWeakPassword,
		model.ErrCodeEmailAlreadyInUse,
		model.ErrCodeInvalidStatus,
		model.ErrCodeInvalidDueDate,
		model.ErrCodeFieldTooLong:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeUserNotFound, model.ErrCodeProjectNotFound, model.ErrCodeTaskNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody はリクエストボディをdstにデコードする。
// ボディが空、JSONとして不正、型が合わない、または上限サイズを超える場合はfalseを返し、
// 400レスポンスを書き込む。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slog.Debug("invalid request body",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// callerUID はベアラー認証で確定したユーザーIDを返す。
// 取得できない場合は401を書き込んでfalseを返す。
func callerUID(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return uid, true
}
