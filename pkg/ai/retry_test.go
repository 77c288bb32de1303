package ai

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedCompleter struct {
	errs  []error
	calls int
}

func (s *scriptedCompleter) Complete(ctx context.Context, messages []Message) (Completion, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Completion{}, s.errs[i]
	}
	return Completion{Text: "ok"}, nil
}

func newTestRetrier(next Completer, retries int) (*RetryingCompleter, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetryingCompleter(next, retries, time.Second).(*RetryingCompleter)
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestRetryingCompleterRetriesTransientFailures(t *testing.T) {
	next := &scriptedCompleter{errs: []error{
		&ProviderError{Provider: "p", Status: 503, Message: "busy"},
		&ProviderError{Provider: "p", Status: 429, Message: "slow down"},
	}}
	r, slept := newTestRetrier(next, 3)
	out, err := r.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "ok" || next.calls != 3 {
		t.Fatalf("expected success on third call, calls=%d", next.calls)
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Fatalf("unexpected backoff %v", *slept)
	}
}

func TestRetryingCompleterStopsOnPermanentFailure(t *testing.T) {
	next := &scriptedCompleter{errs: []error{&ProviderError{Provider: "p", Status: 401, Message: "bad key"}}}
	r, _ := newTestRetrier(next, 3)
	_, err := r.Complete(context.Background(), nil)
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Status != 401 || next.calls != 1 {
		t.Fatalf("expected single 401 failure, err=%v calls=%d", err, next.calls)
	}
}

func TestRetryingCompleterGivesUp(t *testing.T) {
	transient := &ProviderError{Provider: "p", Status: 500, Message: "boom"}
	next := &scriptedCompleter{errs: []error{transient, transient, transient}}
	r, _ := newTestRetrier(next, 2)
	if _, err := r.Complete(context.Background(), nil); !errors.Is(err, transient) {
		t.Fatalf("expected last error, got %v", err)
	}
	if next.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", next.calls)
	}
}

func TestNewRetryingCompleterDisabledByDefault(t *testing.T) {
	next := &scriptedCompleter{}
	if c := NewRetryingCompleter(next, 0, 0); c != Completer(next) {
		t.Fatalf("zero retries should return the wrapped completer")
	}
}

func TestBackoffIsCapped(t *testing.T) {
	if got := backoff(time.Second, 10); got != maxRetryBackoff {
		t.Fatalf("expected cap %v, got %v", maxRetryBackoff, got)
	}
}
