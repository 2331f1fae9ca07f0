package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
)

const maxBodyBytes = 4 << 20

var validate = validator.New()

type envelope struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    errs.Code      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Status: "ok", Data: data})
}

// writeError renders err with the status its code maps to. Internal errors
// are logged and their message withheld.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorDetails(w, r, err, nil)
}

func (s *Server) writeErrorDetails(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	code := errs.CodeOf(err)
	body := &errorBody{Code: code, Message: err.Error()}

	var e *errs.Error
	if errors.As(err, &e) {
		body.Message = e.Message
		if len(e.Details) > 0 {
			body.Details = make(map[string]any, len(e.Details)+len(extra))
			for k, v := range e.Details {
				body.Details[k] = v
			}
		}
	}
	for k, v := range extra {
		if body.Details == nil {
			body.Details = make(map[string]any, len(extra))
		}
		body.Details[k] = v
	}

	status := errs.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", string(code)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		if code == errs.CodeInternal {
			body.Message = "internal error"
		}
	}
	writeJSON(w, status, envelope{Status: "error", Error: body})
}

// decode reads a JSON body into dst and validates its struct tags. Numbers
// are kept as json.Number so metadata survives canonicalisation exactly.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.CodeValidation, err, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs.Wrap(errs.CodeValidation, err, "invalid request")
	}
	msgs := make([]string, 0, len(fieldErrs))
	fields := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := strings.ToLower(fe.Field())
		var msg string
		switch fe.Tag() {
		case "required":
			msg = fmt.Sprintf("%s is required", name)
		case "uuid":
			msg = fmt.Sprintf("%s must be a UUID", name)
		case "oneof":
			msg = fmt.Sprintf("%s must be one of: %s", name, fe.Param())
		default:
			msg = fmt.Sprintf("%s is invalid", name)
		}
		msgs = append(msgs, msg)
		fields[name] = fe.Tag()
	}
	return errs.Validation("%s", strings.Join(msgs, "; ")).WithDetail("fields", fields)
}

func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errs.Validation("%s must be a boolean", key).WithDetail(key, v)
	}
	return b, nil
}

func queryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errs.Validation("%s must be a non-negative integer", key).WithDetail(key, v)
	}
	return n, nil
}
