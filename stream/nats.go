// Package stream reads row-level change events from a NATS JetStream
// stream populated by a Debezium connector.
package stream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mike840609/debezium-nats-cdc/cdc"
	"github.com/mike840609/debezium-nats-cdc/engine"
)

const changeSubjects = "changes.>"

// PositionOf encodes a stream sequence as a source position. Positions
// are zero-padded so that lexicographic order matches sequence order.
func PositionOf(sequence uint64) cdc.SourcePosition {
	return cdc.SourcePosition(fmt.Sprintf("%020d", sequence))
}

func sequenceOf(position cdc.SourcePosition) (uint64, error) {
	sequence, err := strconv.ParseUint(string(position), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed source position %q", position)
	}
	return sequence, nil
}

type ReaderOption func(*NATSReader)

func WithReaderLogger(logger zerolog.Logger) ReaderOption {
	return func(r *NATSReader) {
		r.logger = logger
	}
}

// NATSReader consumes the change stream in stream order with an ordered
// ephemeral consumer. Messages that cannot be decoded are logged and
// skipped so a single poison message cannot wedge the stream.
type NATSReader struct {
	stream       nats.JetStreamContext
	name         string
	subscription *nats.Subscription
	start        uint64
	logger       zerolog.Logger
}

func NewNATSReader(connection *nats.Conn, name string, options ...ReaderOption) (*NATSReader, error) {
	stream, err := connection.JetStream()
	if err != nil {
		return nil, errors.Wrap(err, "attach jetstream context")
	}

	_, err = stream.AddStream(&nats.StreamConfig{
		Name:        name,
		Description: "row change stream for " + name,
		Subjects:    []string{changeSubjects},
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, errors.Wrapf(err, "ensure stream %s", name)
	}

	reader := &NATSReader{
		stream: stream,
		name:   name,
		logger: zerolog.Nop(),
	}

	for _, option := range options {
		option(reader)
	}

	return reader, nil
}

// Seek positions the reader immediately after the given position. It must
// be called before the first Next.
func (r *NATSReader) Seek(position cdc.SourcePosition) error {
	if r.subscription != nil {
		return errors.New("seek after the stream has been read")
	}

	sequence, err := sequenceOf(position)
	if err != nil {
		return err
	}

	r.start = sequence + 1
	return nil
}

func (r *NATSReader) Next(ctx context.Context) (*cdc.ChangeEvent, error) {
	if r.subscription == nil {
		if err := r.subscribe(); err != nil {
			return nil, err
		}
	}

	for {
		msg, err := r.subscription.NextMsgWithContext(ctx)
		if err != nil {
			return nil, err
		}

		metadata, err := msg.Metadata()
		if err != nil {
			return nil, errors.Wrap(err, "read message metadata")
		}

		position := PositionOf(metadata.Sequence.Stream)
		change, err := DecodeChange(msg.Data, position)
		if err != nil {
			r.logger.Error().Err(err).
				Str("subject", msg.Subject).
				Str("position", position.String()).
				Msg("skipping undecodable change message")
			continue
		}

		return change, nil
	}
}

func (r *NATSReader) subscribe() error {
	opts := []nats.SubOpt{nats.OrderedConsumer(), nats.BindStream(r.name)}
	if r.start > 0 {
		opts = append(opts, nats.StartSequence(r.start))
	} else {
		opts = append(opts, nats.DeliverAll())
	}

	subscription, err := r.stream.SubscribeSync(changeSubjects, opts...)
	if err != nil {
		return errors.Wrap(err, "subscribe to change stream")
	}

	r.subscription = subscription
	return nil
}

func (r *NATSReader) Close() error {
	if r.subscription == nil {
		return nil
	}
	return r.subscription.Unsubscribe()
}

var _ engine.ChangeReader = (*NATSReader)(nil)
