package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrQueueFull is returned when the request queue has no room.
var ErrQueueFull = errors.New("oracle request queue is full")

// Deliverer hands a signed fulfillment to the callback entry point.
type Deliverer interface {
	Deliver(ctx context.Context, token string) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, token string) error

func (f DelivererFunc) Deliver(ctx context.Context, token string) error { return f(ctx, token) }

// Config tunes the in-process oracle.
type Config struct {
	Workers   int
	QueueSize int
	Delay     time.Duration // wait before fulfilling, to mimic a remote oracle
}

// Local is an in-process oracle. Requests are queued and fulfilled by a
// pool of workers started with Run; each fulfillment is delivered at most
// once and never retried.
type Local struct {
	key    []byte
	signer *Signer
	cfg    Config
	queue  chan Request
}

// NewLocal builds an oracle signing as identity with key.
func NewLocal(key []byte, identity string, cfg Config) *Local {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Local{
		key:    key,
		signer: NewSigner(key, identity),
		cfg:    cfg,
		queue:  make(chan Request, cfg.QueueSize),
	}
}

// RequestRandomness enqueues req without blocking.
func (o *Local) RequestRandomness(ctx context.Context, req Request) error {
	select {
	case o.queue <- req:
		log.Debug().Str("request", req.ID).Str("game", req.Game).Str("payer", req.Payer).Msg("randomness requested")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Fulfill derives and signs the answer to req.
func (o *Local) Fulfill(req Request) (string, error) {
	return o.signer.Sign(Fulfillment{
		RequestID:  req.ID,
		Callback:   req.Callback,
		Game:       req.Game,
		Seed:       req.CallerSeed,
		Randomness: Derive(o.key, req.CallerSeed, req.Game, req.ID),
	})
}

// Run starts the workers and blocks until ctx is cancelled.
func (o *Local) Run(ctx context.Context, d Deliverer) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			o.work(ctx, worker, d)
		}(i)
	}
	log.Info().Int("workers", o.cfg.Workers).Msg("oracle started")
	wg.Wait()
	log.Info().Msg("oracle stopped")
}

func (o *Local) work(ctx context.Context, worker int, d Deliverer) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-o.queue:
			if o.cfg.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(o.cfg.Delay):
				}
			}
			o.handle(ctx, worker, req, d)
		}
	}
}

func (o *Local) handle(ctx context.Context, worker int, req Request, d Deliverer) {
	token, err := o.Fulfill(req)
	if err != nil {
		log.Error().Err(err).Str("request", req.ID).Msg("sign fulfillment")
		return
	}
	if err := d.Deliver(ctx, token); err != nil {
		log.Warn().Err(err).Int("worker", worker).Str("request", req.ID).Str("game", req.Game).Msg("deliver fulfillment")
		return
	}
	log.Debug().Int("worker", worker).Str("request", req.ID).Msg("fulfilled")
}
