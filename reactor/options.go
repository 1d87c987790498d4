// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// DefaultPollTimeout is the default upper bound of each wait.
const DefaultPollTimeout = time.Second

// reactorOptions holds configuration options for Reactor creation.
type reactorOptions struct {
	logger       *logiface.Logger[logiface.Event]
	errorLogRate map[time.Duration]int
	name         string
	pollTimeout  time.Duration
}

// Option configures a Reactor instance.
type Option interface {
	applyReactor(*reactorOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyReactorFunc func(*reactorOptions) error
}

func (o *optionImpl) applyReactor(opts *reactorOptions) error {
	return o.applyReactorFunc(opts)
}

// WithLogger sets the logger used to report evicted sockets, panicking
// callbacks, and select faults. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPollTimeout sets the upper bound of each wait for readiness, which also
// bounds the latency of observing timer changes made from other goroutines.
// Defaults to DefaultPollTimeout.
func WithPollTimeout(d time.Duration) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		if d <= 0 {
			return errors.New("reactor: poll timeout must be positive")
		}
		opts.pollTimeout = d
		return nil
	}}
}

// WithName sets the name included in log output. Defaults to a random id.
func WithName(name string) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		opts.name = name
		return nil
	}}
}

// WithErrorLogRate limits warnings, per category, using the rates accepted
// by catrate.NewLimiter. A nil or empty map disables limiting. Defaults to
// DefaultErrorLogRate.
func WithErrorLogRate(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		opts.errorLogRate = rates
		return nil
	}}
}

// resolveOptions applies Option instances to reactorOptions.
func resolveOptions(opts []Option) (*reactorOptions, error) {
	cfg := &reactorOptions{
		pollTimeout:  DefaultPollTimeout,
		errorLogRate: DefaultErrorLogRate,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyReactor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
