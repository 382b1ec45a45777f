package web

// errors.go maps errors to JSON responses. The technical error is logged with
// the request id; the client gets the stable code and message from
// core.Describe.

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/cycler/internal/core"
)

// errBadRequest marks request validation failures.
var errBadRequest = errors.New("bad request")

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Action string `json:"action,omitempty"`
}

// statusByCode gives the HTTP status for each error code.
var statusByCode = map[string]int{
	"FMT001":  http.StatusUnsupportedMediaType,
	"FMT002":  http.StatusUnprocessableEntity,
	"COL001":  http.StatusUnprocessableEntity,
	"COL002":  http.StatusUnprocessableEntity,
	"FILE001": http.StatusNotFound,
	"FILE002": http.StatusUnprocessableEntity,
	"HRV001":  http.StatusServiceUnavailable,
	"DB004":   http.StatusServiceUnavailable,
	"DB006":   http.StatusGatewayTimeout,
}

// statusFor returns the HTTP status for an error code.
func statusFor(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes its JSON description.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadRequest) {
		slog.Warn("bad request", "path", r.URL.Path, "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeJSONStatus(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "REQ001"})
		return
	}

	info := core.Describe(err)
	status := statusFor(info.Code)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", info.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	writeJSONStatus(w, status, ErrorResponse{
		Error:  info.Message,
		Code:   info.Code,
		Action: info.Action,
	})
}
