package mailbox

import (
	"context"
	"errors"

	"github.com/newsletter-scanner/internal/circuitbreaker"
	"github.com/newsletter-scanner/internal/logging"
	"github.com/newsletter-scanner/internal/types"
)

// NewBreakerFactory wraps a client factory so that every mailbox call
// runs through a shared circuit breaker. The breaker only counts
// provider-side failures: auth and not-found errors are the caller's
// problem and must not take the provider offline for everyone.
func NewBreakerFactory(inner ClientFactory, cfg *circuitbreaker.Config, logger *logging.Logger) ClientFactory {
	if cfg == nil {
		cfg = circuitbreaker.DefaultConfig("mailbox")
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			switch KindOf(err) {
			case KindAuth, KindNotFound:
				return false
			default:
				return true
			}
		}
	}
	cfg.Logger = logger
	return &breakerFactory{
		inner:   inner,
		breaker: circuitbreaker.NewCircuitBreaker(cfg),
	}
}

type breakerFactory struct {
	inner   ClientFactory
	breaker *circuitbreaker.CircuitBreaker
}

func (f *breakerFactory) ClientFor(ctx context.Context, ownerID string) (Client, error) {
	client, err := f.inner.ClientFor(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &breakerClient{inner: client, breaker: f.breaker}, nil
}

// breakerClient runs every call through the shared breaker
type breakerClient struct {
	inner   Client
	breaker *circuitbreaker.CircuitBreaker
}

func (c *breakerClient) GetProfile(ctx context.Context) (*Profile, error) {
	var profile *Profile
	err := c.execute(ctx, func() error {
		var callErr error
		profile, callErr = c.inner.GetProfile(ctx)
		return callErr
	})
	return profile, err
}

func (c *breakerClient) ListMessageIDs(ctx context.Context, req *ListRequest) (*MessagePage, error) {
	var page *MessagePage
	err := c.execute(ctx, func() error {
		var callErr error
		page, callErr = c.inner.ListMessageIDs(ctx, req)
		return callErr
	})
	return page, err
}

func (c *breakerClient) GetMessageMetadata(ctx context.Context, id string) (*types.EmailMetadata, error) {
	var meta *types.EmailMetadata
	err := c.execute(ctx, func() error {
		var callErr error
		meta, callErr = c.inner.GetMessageMetadata(ctx, id)
		return callErr
	})
	return meta, err
}

func (c *breakerClient) execute(ctx context.Context, fn func() error) error {
	err := c.breaker.Execute(ctx, fn)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return &Error{Kind: KindTransient, Message: "mailbox provider temporarily unavailable", Cause: err}
	}
	return err
}
