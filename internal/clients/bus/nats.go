package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/campusops/edugate/internal/platform/envutil"
	"github.com/campusops/edugate/internal/platform/logger"
)

type natsBus struct {
	log *logger.Logger
	nc  *nats.Conn
}

// NewNATS connects to the broker at NATS_URL. Reconnects are unbounded
// with a short backoff; the broker client owns its own connection pool.
func NewNATS(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	url := envutil.Str("NATS_URL", "")
	if url == "" {
		return nil, fmt.Errorf("missing NATS_URL")
	}

	blog := log.With("client", "NATS")
	nc, err := nats.Connect(url,
		nats.Name("edugate"),
		nats.Timeout(envutil.Dur("NATS_CONNECT_TIMEOUT", 5*time.Second)),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(envutil.Dur("NATS_RECONNECT_WAIT", 2*time.Second)),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			blog.Warn("Bus disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			blog.Info("Bus reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &natsBus{log: blog, nc: nc}, nil
}

func (b *natsBus) Request(ctx context.Context, subject string, payload []byte) ([]byte, error) {
	msg, err := b.nc.RequestWithContext(ctx, subject, payload)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("%w: %s", ErrNoResponder, subject)
		}
		return nil, err
	}
	return msg.Data, nil
}

func (b *natsBus) Publish(_ context.Context, subject string, payload []byte) error {
	return b.nc.Publish(subject, payload)
}

func (b *natsBus) Connected() bool {
	return b.nc.IsConnected()
}

func (b *natsBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}
