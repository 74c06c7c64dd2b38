package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type staticGenerator struct {
	name string
	text string
	err  error
}

func (s *staticGenerator) Name() string { return s.name }

func (s *staticGenerator) Generate(_ context.Context, _ string) (string, error) {
	return s.text, s.err
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry("gemini")
	reg.Register("gemini", &staticGenerator{name: "googleai/gemini-2.5-flash"})
	reg.Register("gemini-2.5-pro", &staticGenerator{name: "googleai/gemini-2.5-pro"})

	tests := []struct {
		name     string
		selector string
		wantName string
		wantErr  error
	}{
		{"explicit selector", "gemini", "googleai/gemini-2.5-flash", nil},
		{"other selector", "gemini-2.5-pro", "googleai/gemini-2.5-pro", nil},
		{"empty resolves to default", "", "googleai/gemini-2.5-flash", nil},
		{"unknown selector", "gpt-9", "", ErrUnknownModel},
		{"case sensitive", "Gemini", "", ErrUnknownModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := reg.Resolve(tt.selector)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve(%q) error = %v, want %v", tt.selector, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.selector, err)
			}
			if gen.Name() != tt.wantName {
				t.Errorf("Resolve(%q).Name() = %q, want %q", tt.selector, gen.Name(), tt.wantName)
			}
		})
	}
}

func TestRegistryModels(t *testing.T) {
	reg := NewRegistry("gemini")
	reg.Register("gemini", &staticGenerator{})
	reg.Register("gemini-2.5-pro", &staticGenerator{})
	reg.Register("gemini-2.5-flash", &staticGenerator{})

	got := reg.Models()
	want := []string{"gemini", "gemini-2.5-flash", "gemini-2.5-pro"}
	if len(got) != len(want) {
		t.Fatalf("Models() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Models()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if reg.Default() != "gemini" {
		t.Errorf("Default() = %q, want gemini", reg.Default())
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"quota", errors.New("Quota Exceeded for project"), true},
		{"server error", errors.New("503 Service Unavailable"), true},
		{"network", errors.New("read: connection reset by peer"), true},
		{"timeout", errors.New("context deadline exceeded: timeout"), true},
		{"client error", errors.New("400 invalid request"), false},
		{"safety block", errors.New("blocked by safety settings"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 4 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		got, err := withRetry(context.Background(), cfg, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("503 unavailable")
			}
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("withRetry error: %v", err)
		}
		if got != "ok" || calls != 3 {
			t.Errorf("got %q after %d calls, want ok after 3", got, calls)
		}
	})

	t.Run("non-transient error returns immediately", func(t *testing.T) {
		calls := 0
		_, err := withRetry(context.Background(), cfg, func(context.Context) (string, error) {
			calls++
			return "", errors.New("400 bad request")
		})
		if err == nil {
			t.Fatal("want error")
		}
		if calls != 1 {
			t.Errorf("non-transient error retried %d times", calls)
		}
	})

	t.Run("exhausts retries", func(t *testing.T) {
		calls := 0
		transient := errors.New("rate limit hit")
		_, err := withRetry(context.Background(), cfg, func(context.Context) (string, error) {
			calls++
			return "", transient
		})
		if !errors.Is(err, transient) {
			t.Fatalf("error = %v, want last transient error", err)
		}
		if calls != cfg.MaxRetries+1 {
			t.Errorf("calls = %d, want %d", calls, cfg.MaxRetries+1)
		}
	})

	t.Run("canceled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := withRetry(ctx, cfg, func(context.Context) (string, error) {
			calls++
			cancel()
			return "", errors.New("503 unavailable")
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}
