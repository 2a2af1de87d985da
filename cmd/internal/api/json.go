package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// requestIDHeader is set by the access-log middleware before handlers run.
const requestIDHeader = "X-Request-ID"

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the error envelope, echoing the request id so a client
// report can be matched to the server log line.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{
		Code:      code,
		Message:   msg,
		RequestID: w.Header().Get(requestIDHeader),
	}})
}

// Body decoding failures.
var (
	errBodyTooLarge = errors.New("request body too large")
	errInvalidJSON  = errors.New("invalid JSON body")
)

// decodeJSON reads exactly one JSON value of at most maxBytes into dst.
// Unknown fields and trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return fmt.Errorf("%w: empty body", errInvalidJSON)
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return classifyDecode(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err != nil {
			return classifyDecode(err)
		}
		return fmt.Errorf("%w: trailing data", errInvalidJSON)
	}
	return nil
}

func classifyDecode(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return fmt.Errorf("%w: limit %d bytes", errBodyTooLarge, mbe.Limit)
	}
	return fmt.Errorf("%w: %v", errInvalidJSON, err)
}

// writeDecodeError maps a decodeJSON failure to 413 or 400.
func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
}
