package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-service/internal/apperr"
	"github.com/kjstillabower/forecast-service/internal/observability"
)

// GenericFaultMessage replaces the message of every fault that is not an apperr.Error.
const GenericFaultMessage = "Something went wrong. Please try again later."

type errorBody struct {
	Error string `json:"error"`
}

// HandlerFunc is an http handler that returns its fault instead of writing it.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Wrap adapts fn to http.HandlerFunc, translating a returned error into the fault envelope.
func (h *Handler) Wrap(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			writeFault(w, r, h.logger, err)
		}
	}
}

// ErrorEnvelopeMiddleware turns a panic in any downstream handler into a 500 fault
// response. The panic is not re-raised.
func ErrorEnvelopeMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := newResponseRecorder(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					return
				}
				err, ok := v.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", v)
				}
				writeFault(recorder, r, logger, err)
			}()
			next.ServeHTTP(recorder, r)
		})
	}
}

// writeFault writes the 500 envelope for err. apperr.Error messages are passed
// through verbatim; everything else gets GenericFaultMessage.
func writeFault(w http.ResponseWriter, r *http.Request, fallback *zap.Logger, err error) {
	logger := requestLogger(r, fallback)

	msg := GenericFaultMessage
	if ae, ok := apperr.As(err); ok {
		msg = ae.Message
		observability.RecordFault("application")
		logger.Warn("application fault", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		observability.RecordFault("unexpected")
		if errors.Is(err, context.Canceled) {
			logger.Debug("request canceled", zap.String("path", r.URL.Path))
		} else {
			logger.Error("unhandled fault", zap.String("path", r.URL.Path), zap.Error(err))
		}
	}

	if rw, ok := w.(interface{ Written() bool }); ok && rw.Written() {
		logger.Warn("response already started, fault body not written")
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: msg})
}

// NotFoundHandler answers unmatched paths with a JSON 404.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})
}

// MethodNotAllowedHandler answers known paths with an unsupported method.
func MethodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})
}

// requestLogger returns the correlation-scoped logger from the request context,
// falling back to fallback, then to a no-op logger.
func requestLogger(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}
