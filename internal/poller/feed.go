package poller

import (
	"context"
	"fmt"

	"github.com/newthinker/dexfeed/internal/transport"
)

// Feed describes one upstream data source and how its responses are delivered.
type Feed[T any] interface {
	// Name identifies the feed in logs and metrics, e.g. "native/levels".
	Name() string

	// Request returns the request template. The poller copies it once at construction.
	Request() transport.Request

	// Authenticate signs a fresh copy of the template right before every send.
	Authenticate(req transport.Request) (transport.Request, error)

	// Cast validates the raw payload and converts it to the typed value.
	Cast(raw []byte) (T, error)

	// OnResult receives every successfully cast value.
	OnResult(ctx context.Context, v T) error
}

// Descriptor implements Feed from plain functions.
type Descriptor[T any] struct {
	FeedName string
	Template transport.Request
	AuthFunc func(transport.Request) (transport.Request, error) // optional
	CastFunc func([]byte) (T, error)
	Handler  func(context.Context, T) error
}

var _ Feed[struct{}] = (*Descriptor[struct{}])(nil)

func (d *Descriptor[T]) Name() string { return d.FeedName }

func (d *Descriptor[T]) Request() transport.Request { return d.Template.Clone() }

func (d *Descriptor[T]) Authenticate(req transport.Request) (transport.Request, error) {
	if d.AuthFunc == nil {
		return req, nil
	}
	return d.AuthFunc(req)
}

func (d *Descriptor[T]) Cast(raw []byte) (T, error) {
	if d.CastFunc == nil {
		var zero T
		return zero, fmt.Errorf("feed %s has no caster", d.FeedName)
	}
	return d.CastFunc(raw)
}

func (d *Descriptor[T]) OnResult(ctx context.Context, v T) error {
	if d.Handler == nil {
		return nil
	}
	return d.Handler(ctx, v)
}
