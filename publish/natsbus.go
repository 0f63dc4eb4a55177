package publish

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// NATSTransport sends serialized events to NATS subjects. Reconnection is
// delegated to the client library; a send while disconnected buffers until
// the configured reconnect attempts are exhausted.
type NATSTransport struct {
	conn *nats.Conn
}

func NewNATSTransport(url string, maxReconnects int, reconnectWait time.Duration, logger zerolog.Logger) (*NATSTransport, error) {
	options := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn().Msg("nats connection closed")
		}),
	}

	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, errors.Wrap(err, "connect to nats")
	}

	logger.Info().Str("url", url).Msg("connected to nats")

	return &NATSTransport{conn: conn}, nil
}

// TransportFromConn wraps an existing connection; the caller keeps
// ownership of its lifecycle.
func TransportFromConn(conn *nats.Conn) *NATSTransport {
	return &NATSTransport{conn: conn}
}

// Send publishes the frame and flushes the connection before reporting
// success. Publish alone only writes to the client buffer; the flush round
// trip confirms the server accepted the frame, so a nil return really means
// the event left this process.
func (t *NATSTransport) Send(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.conn.Publish(subject, data); err != nil {
		return errors.Wrapf(err, "publish to %s", subject)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return errors.Wrapf(err, "flush publish to %s", subject)
	}
	return nil
}

func (t *NATSTransport) Close() {
	if t.conn != nil {
		t.conn.Flush()
		t.conn.Close()
	}
}

// Conn exposes the underlying connection for collaborators sharing it.
func (t *NATSTransport) Conn() *nats.Conn {
	return t.conn
}
