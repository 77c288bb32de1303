package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"zerogchat/internal/oauth"
	"zerogchat/internal/session"
	"zerogchat/internal/util"
	"zerogchat/pkg/auth"
	"zerogchat/pkg/domain"
	"zerogchat/pkg/store"
)

const maxNameRunes = 100

// Session is the result of a successful sign-in.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}

// Register creates a credential account and signs it in.
func (a *App) Register(ctx context.Context, name, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	name = strings.TrimSpace(name)
	if len([]rune(name)) > maxNameRunes {
		return Session{}, fmt.Errorf("%w: name too long", ErrInvalidInput)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidInput, err.Error())
	}
	if _, exists, err := a.store.GetUserByEmail(ctx, email); err != nil {
		return Session{}, storageErr("lookup user", err)
	} else if exists {
		return Session{}, ErrEmailAlreadyExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	now := a.timestamp()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return Session{}, ErrEmailAlreadyExists
		}
		return Session{}, storageErr("save user", err)
	}
	util.LoggerFromContext(ctx).Info("user registered", "user_id", user.ID)
	return a.issueSession(user)
}

// Login checks credentials. Unknown emails and wrong passwords fail the same way.
func (a *App) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return Session{}, storageErr("lookup user", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		util.LoggerFromContext(ctx).Info("login rejected")
		return Session{}, ErrInvalidCredentials
	}
	return a.issueSession(user)
}

// Authenticate resolves a session token to the signed-in user id.
func (a *App) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := a.sessions.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) || errors.Is(err, session.ErrRevoked) {
			return "", ErrUnauthenticated
		}
		return "", err
	}
	return userID, nil
}

// Logout revokes the token until it would have expired anyway.
func (a *App) Logout(ctx context.Context, token string) error {
	if err := a.sessions.Revoke(ctx, token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Me returns the signed-in user.
func (a *App) Me(ctx context.Context, userID string) (domain.User, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, ErrUnauthenticated
	}
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, storageErr("load user", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	return user, nil
}

// SessionTTL is the lifetime of issued tokens, used for the cookie max-age.
func (a *App) SessionTTL() time.Duration { return a.sessions.TTL() }

// GoogleAuthURL returns the consent page URL carrying state.
func (a *App) GoogleAuthURL(state string) (string, error) {
	if a.google == nil {
		return "", ErrOAuthUnavailable
	}
	return a.google.AuthCodeURL(state), nil
}

// GoogleSignIn exchanges the authorization code and signs the matching user in,
// creating the account on first use.
func (a *App) GoogleSignIn(ctx context.Context, code string) (Session, error) {
	if a.google == nil {
		return Session{}, ErrOAuthUnavailable
	}
	if strings.TrimSpace(code) == "" {
		return Session{}, fmt.Errorf("%w: authorization code is required", ErrInvalidInput)
	}
	profile, err := a.google.Exchange(ctx, code)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("google sign-in failed", "err", err)
		if errors.Is(err, oauth.ErrUnverifiedEmail) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, ErrUnauthenticated
	}
	user, ok, err := a.store.GetUserByEmail(ctx, profile.Email)
	if err != nil {
		return Session{}, storageErr("lookup user", err)
	}
	now := a.timestamp()
	if !ok {
		user = domain.User{
			ID:        util.NewID(),
			Email:     profile.Email,
			Name:      profile.Name,
			Image:     profile.Picture,
			CreatedAt: now,
			UpdatedAt: now,
		}
	} else {
		if user.Name == "" {
			user.Name = profile.Name
		}
		user.Image = profile.Picture
		user.UpdatedAt = now
	}
	if err := a.store.SaveUser(ctx, user); err != nil {
		return Session{}, storageErr("save user", err)
	}
	return a.issueSession(user)
}

func (a *App) issueSession(user domain.User) (Session, error) {
	token, expires, err := a.sessions.Issue(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue session: %w", err)
	}
	return Session{Token: token, ExpiresAt: expires, User: user}, nil
}
