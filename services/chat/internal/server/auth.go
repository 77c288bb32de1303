package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"zerogchat/internal/util"
)

type sessionContextKey struct{}

type sessionInfo struct {
	userID string
	token  string
}

func sessionFromContext(ctx context.Context) sessionInfo {
	info, _ := ctx.Value(sessionContextKey{}).(sessionInfo)
	return info
}

func userID(r *http.Request) string {
	return sessionFromContext(r.Context()).userID
}

// requireSession resolves the caller from a Bearer token or the session cookie.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessionToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		uid, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, sessionInfo{userID: uid, token: token})
		ctx = util.ContextWithLogAttrs(ctx, "user_id", uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r); ok {
		return token, true
	}
	if c, err := r.Cookie(sessionCookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), true
	}
	return "", false
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) authRateKey(r *http.Request) string {
	return r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.authLimiter, s.authRateKey(r), "too many signup attempts") {
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sess, err := s.app.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.setSessionCookie(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.authLimiter, s.authRateKey(r), "too many login attempts") {
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sess, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.setSessionCookie(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Logout(r.Context(), sessionFromContext(r.Context()).token); err != nil {
		writeAppError(w, r, err)
		return
	}
	s.clearCookie(w, sessionCookieName)
	writeSuccess(w)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.app.Me(r.Context(), userID(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := util.NewID()
	url, err := s.app.GoogleAuthURL(state)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/api/auth/google",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	c, err := r.Cookie(oauthStateCookieName)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) != 1 {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	s.clearCookie(w, oauthStateCookieName)
	if msg := r.URL.Query().Get("error"); msg != "" {
		util.LoggerFromContext(r.Context()).Info("google sign-in declined", "reason", msg)
		writeError(w, http.StatusUnauthorized, "Google sign-in was cancelled")
		return
	}
	sess, err := s.app.GoogleSignIn(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.setSessionCookie(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	path := "/"
	if name == oauthStateCookieName {
		path = "/api/auth/google"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
