package twootr

import (
	"errors"
	"time"
)

// Option configures a Twootr at construction time.
type Option func(*Twootr) error

// WithFollowGraph replaces the default in-memory graph.
func WithFollowGraph(g FollowGraph) Option {
	return func(t *Twootr) error {
		if g == nil {
			return errors.New("twootr: nil follow graph")
		}
		t.graph = g
		return nil
	}
}

// WithPostLog records every accepted post and resumes per-author sequences
// from the log after a restart.
func WithPostLog(l PostLog) Option {
	return func(t *Twootr) error {
		if l == nil {
			return errors.New("twootr: nil post log")
		}
		t.posts = l
		return nil
	}
}

func WithMetrics(m Metrics) Option {
	return func(t *Twootr) error {
		if m == nil {
			return errors.New("twootr: nil metrics")
		}
		t.metrics = m
		return nil
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(t *Twootr) error {
		if now == nil {
			return errors.New("twootr: nil clock")
		}
		t.now = now
		return nil
	}
}

// WithLimits overrides DefaultLimits. Zero fields keep their default.
func WithLimits(l Limits) Option {
	return func(t *Twootr) error {
		t.limits = l.withDefaults()
		return nil
	}
}
