// Package dispatch delivers rendered messages to notification gateways.
//
// Dispatchers are synchronous: Dispatch returns once the gateway accepted or
// rejected the message. Nothing is retried within a call; the next poll is the
// retry.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"feedwatch/internal/model"
)

var (
	// ErrDispatch wraps every gateway failure.
	ErrDispatch = errors.New("dispatch failed")
	// ErrAuth marks gateway rejections caused by a bad or expired credential.
	ErrAuth = errors.New("gateway auth rejected")
	// ErrDuplicate reports a message dropped by the duplicate filter. Nothing
	// was sent.
	ErrDuplicate = errors.New("duplicate message suppressed")
)

// Dispatcher sends one message to one gateway.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, msg model.Message) error
}

// Fanout sends to every dispatcher and joins their errors. It reports
// ErrDuplicate only when every dispatcher suppressed the message.
type Fanout []Dispatcher

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) Dispatch(ctx context.Context, msg model.Message) error {
	var errs []error
	dups := 0
	for _, d := range f {
		err := d.Dispatch(ctx, msg)
		switch {
		case err == nil:
		case errors.Is(err, ErrDuplicate):
			dups++
		default:
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
	}
	if len(errs) == 0 && dups > 0 && dups == len(f) {
		return ErrDuplicate
	}
	return errors.Join(errs...)
}

// Discard accepts and drops every message. Used when no gateway is configured.
type Discard struct{}

func (Discard) Name() string                                  { return "discard" }
func (Discard) Dispatch(context.Context, model.Message) error { return nil }
