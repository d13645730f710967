package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cptrest/cptrest/internal/apierr"
	"github.com/cptrest/cptrest/internal/model"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a typed API error using the standard error envelope.
func writeError(w http.ResponseWriter, e *apierr.Error) {
	WriteError(w, e)
}

// WriteError is exported for middleware that renders errors outside of a
// handler.
func WriteError(w http.ResponseWriter, e *apierr.Error) {
	status := e.Status()
	writeJSON(w, status, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    e.Code,
			Message: e.Message,
			Status:  status,
		},
	})
}

// fail converts err to a typed API error and writes it. Untyped errors are
// logged with their detail and rendered as a generic 500.
func fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	e := apierr.From(err)
	if e.Status() >= http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", e.Code,
			"error", err,
		)
	}
	writeError(w, e)
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// clampInt constrains val to be within [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// int64Value reads a positive integer from a decoded JSON value. Strings of
// digits are accepted as well.
func int64Value(v any) (int64, bool) {
	var n int64
	var err error
	switch t := v.(type) {
	case json.Number:
		n, err = t.Int64()
	case string:
		n, err = strconv.ParseInt(t, 10, 64)
	case float64:
		n = int64(t)
		if float64(n) != t {
			return 0, false
		}
	default:
		return 0, false
	}
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
