package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePurger struct {
	before time.Time
	n      int64
	err    error
	calls  int
}

func (f *fakePurger) PurgeCompleted(_ context.Context, before time.Time) (int64, error) {
	f.calls++
	f.before = before
	return f.n, f.err
}

func TestRunOnceUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	p := &fakePurger{n: 4}
	j := NewJanitor(p, nil, Config{Retention: 48 * time.Hour})
	j.now = func() time.Time { return now }

	if got := j.RunOnce(t.Context()); got != 4 {
		t.Fatalf("expected 4 removed, got %d", got)
	}
	if want := now.Add(-48 * time.Hour); !p.before.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, p.before)
	}
}

func TestRunOnceSwallowsStoreError(t *testing.T) {
	p := &fakePurger{n: 9, err: errors.New("db down")}
	j := NewJanitor(p, nil, Config{})
	if got := j.RunOnce(t.Context()); got != 0 {
		t.Fatalf("expected 0 on error, got %d", got)
	}
	if j.cfg.Spec != defaultSpec || j.cfg.Retention != 7*24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", j.cfg)
	}
}

func TestStartFallsBackOnInvalidSpec(t *testing.T) {
	j := NewJanitor(&fakePurger{}, nil, Config{Spec: "not a cron spec"})
	j.Start(t.Context())
	defer j.Stop()
	if j.cron == nil || len(j.cron.Entries()) != 1 {
		t.Fatalf("expected one scheduled entry after fallback")
	}
}
