package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// ErrEndOfStream reports that the change reader has no further events.
var ErrEndOfStream = errors.New("engine: end of change stream")

// ChangeReader is the upstream log-reader collaborator: an ordered,
// resumable sequence of change events.
type ChangeReader interface {
	// Seek positions the reader to resume exactly after the given
	// position. Called at most once, before the first Next.
	Seek(position cdc.SourcePosition) error
	// Next blocks for the next change event, returning ErrEndOfStream
	// when the stream is exhausted.
	Next(ctx context.Context) (*cdc.ChangeEvent, error)
}
