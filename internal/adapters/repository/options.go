package repository

import (
	"time"

	"github.com/okian/datacup/pkg/logger"
)

type options struct {
	opTimeout    time.Duration
	busyTimeout  time.Duration
	maxOpenConns int
	seed         uint64
	log          logger.Logger
}

func defaultOptions() options {
	return options{
		opTimeout:    5 * time.Second,
		busyTimeout:  5 * time.Second,
		maxOpenConns: 10,
		seed:         1,
	}
}

// Option applies a configuration option to a Store.
type Option func(*options)

// WithOpTimeout bounds operations whose context carries no deadline.
func WithOpTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.opTimeout = d
		}
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithMaxOpenConns caps the Postgres connection pool. SQLite always uses one.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}

// WithSeed seeds treap priorities for reproducible tree shapes.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}
