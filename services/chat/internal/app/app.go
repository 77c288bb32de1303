package app

import (
	"context"
	"errors"
	"time"

	"zerogchat/internal/oauth"
	"zerogchat/internal/session"
	"zerogchat/pkg/ai"
	"zerogchat/pkg/store"
)

// OAuthProvider is the Google sign-in flow as seen by the app.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (oauth.Profile, error)
}

var _ OAuthProvider = (*oauth.GoogleProvider)(nil)

// Config holds runtime dependencies for the chat application.
type Config struct {
	Store             store.Store
	Completer         ai.Completer
	Sessions          *session.Manager
	Google            OAuthProvider // optional; nil disables Google sign-in
	HistoryLimit      int
	CompletionTimeout time.Duration
	Clock             func() time.Time
}

// App wires the repository, context assembler, and completion gateway together.
type App struct {
	*Repository
	assembler         *ContextAssembler
	completer         ai.Completer
	sessions          *session.Manager
	google            OAuthProvider
	completionTimeout time.Duration
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Completer == nil {
		return nil, errors.New("completer required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager required")
	}
	timeout := cfg.CompletionTimeout
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}
	return &App{
		Repository:        NewRepository(cfg.Store, cfg.Clock),
		assembler:         NewContextAssembler(cfg.Store, cfg.HistoryLimit),
		completer:         cfg.Completer,
		sessions:          cfg.Sessions,
		google:            cfg.Google,
		completionTimeout: timeout,
	}, nil
}

// HistoryLimit reports the context window size in messages.
func (a *App) HistoryLimit() int { return a.assembler.Limit() }
