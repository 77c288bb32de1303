package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"zerogchat/internal/ratelimit"
	"zerogchat/internal/util"
	"zerogchat/services/chat/internal/app"
)

// completionFailedMessage is the only detail clients see when the provider fails.
const completionFailedMessage = "Failed to fetch response"

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// decodeJSON reads a bounded JSON body. An empty body decodes to the zero value.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeAppError maps application errors to HTTP responses. Unknown errors are logged
// and reported without detail.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	logger := util.LoggerFromContext(r.Context())
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, inputMessage(err))
	case errors.Is(err, app.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, "Folder not found")
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, app.ErrInvalidCredentials.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, app.ErrEmailAlreadyExists):
		writeError(w, http.StatusConflict, "Email already exists")
	case errors.Is(err, app.ErrOAuthUnavailable):
		writeError(w, http.StatusNotFound, "Google sign-in is not configured")
	case errors.Is(err, app.ErrCompletionFailed):
		logger.Error("completion failed", "err", err)
		writeError(w, http.StatusInternalServerError, completionFailedMessage)
	default:
		logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// inputMessage turns "invalid input: folder name is required" into "Folder name is required".
func inputMessage(err error) string {
	msg := err.Error()
	prefix := app.ErrInvalidInput.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		msg = msg[i+len(prefix):]
	} else {
		return "Invalid input"
	}
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return "Invalid input"
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, msg)
}

// allowRate reports whether the request may proceed; nil limiters allow everything.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, key, msg string) bool {
	if limiter == nil {
		return true
	}
	ok, retryAfter := limiter.Allow(r.Context(), key)
	if ok {
		return true
	}
	util.LoggerFromContext(r.Context()).Warn("rate limited", "path", r.URL.Path)
	writeRateLimited(w, retryAfter, msg)
	return false
}
