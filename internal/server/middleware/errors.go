package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/studyforge/studyforge/internal/metrics"
	"github.com/studyforge/studyforge/internal/observability"
)

// PanicMessage is returned to callers when a handler panics.
const PanicMessage = "internal server error"

// Recovery converts handler panics into a structured 500 response.
func Recovery(next http.Handler) http.Handler {
	return recoverWith(next, writeEnvelope)
}

// FlatRecovery converts handler panics into a flat {"error": "..."} 500 response.
func FlatRecovery(next http.Handler) http.Handler {
	return recoverWith(next, writeFlat)
}

func recoverWith(next http.Handler, write func(http.ResponseWriter, *errors.ErrorEnvelope)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			env := errors.NewErrorEnvelope("INTERNAL_ERROR", PanicMessage).
				WithCorrelationID(GetRequestID(r.Context()))
			env, _ = env.WithSeverity(errors.SeverityCritical)

			metrics.RecordPanic()
			if observability.ServerLogger != nil {
				observability.ServerLogger.Error("handler panic",
					zap.String("panic", fmt.Sprint(rec)),
					zap.String("path", r.URL.Path),
					zap.String("request_id", env.CorrelationID),
					zap.String("stack_trace", string(debug.Stack())),
				)
			}

			write(w, env)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse is the structured error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeEnvelope writes the response directly; internal/errors imports this package.
func writeEnvelope(w http.ResponseWriter, env *errors.ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:      env.Code,
			Message:   env.Message,
			RequestID: env.CorrelationID,
		},
	})
}

func writeFlat(w http.ResponseWriter, env *errors.ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": env.Message})
}
