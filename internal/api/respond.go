package api

import (
	"encoding/json"
	stdErrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	xerrors "PurchaseRelay/internal/errors"
	"PurchaseRelay/internal/order"
	"PurchaseRelay/pkg/logger"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code     xerrors.Code      `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// statusFor 把错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidTransition, xerrors.CodeConflict, xerrors.CodeAlreadyResolved:
		return http.StatusConflict
	case xerrors.CodeAuthorization:
		return http.StatusForbidden
	case xerrors.CodeValidation:
		return http.StatusBadRequest
	case xerrors.CodeQuotaExceeded, CodeRateLimited:
		return http.StatusTooManyRequests
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail 按错误码推导状态码并写出错误。
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(xerrors.CodeOf(err))
	if status == http.StatusInternalServerError {
		logger.L().Error("请求处理失败",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeError(w, err, status)
}

func writeError(w http.ResponseWriter, err error, status int) {
	body := errorBody{Code: xerrors.CodeOf(err), Message: err.Error()}
	var invalid *order.InvalidTransitionError
	switch {
	case stdErrors.As(err, &invalid):
		body.Metadata = map[string]string{
			"current": string(invalid.Current),
			"action":  invalid.Action,
			"role":    string(invalid.Role),
		}
		if invalid.Attempted != "" {
			body.Metadata["attempted"] = string(invalid.Attempted)
		}
	default:
		if e, ok := xerrors.From(err); ok {
			body.Message = e.Message()
			body.Metadata = e.Metadata()
		}
	}
	if status == http.StatusInternalServerError {
		body.Message = "服务内部错误"
		body.Metadata = nil
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode 解析请求体。optional 为 true 时允许空请求体。
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && stdErrors.Is(err, io.EOF) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeValidation, err, "请求体解析失败")
	}
	return nil
}

// intQuery 读取非负整数查询参数，缺省时返回 fallback。
func intQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, xerrors.Newf(xerrors.CodeValidation, "%s must be a non-negative integer", key)
	}
	return n, nil
}

func boolQuery(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, xerrors.Newf(xerrors.CodeValidation, "%s must be a boolean", key)
	}
	return b, nil
}
