package publish

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// Candidate is a domain event that could not be completed, together with
// everything an operator needs for triage: the full originating change,
// the rule that produced it and how many attempts were made.
type Candidate struct {
	Event    cdc.DomainEvent `json:"event"`
	Change   cdc.ChangeEvent `json:"change"`
	Attempts int             `json:"attempts"`
}

// DeadLetter is the durable form of a failed candidate.
type DeadLetter struct {
	Candidate      Candidate     `json:"candidate"`
	Reason         string        `json:"reason"`
	DeadLetteredAt cdc.Timestamp `json:"deadLetteredAt"`
}

// DeadLetterSink durably records candidates that reached a terminal
// failure, both enrichment-exhausted and validation-rejected ones.
// Append-only; nothing is ever silently dropped.
type DeadLetterSink interface {
	Record(ctx context.Context, candidate Candidate, cause error) error
}

const DeadLetterSubject = "events.deadletter"

// NATSDeadLetterSink appends dead letters to a dedicated subject for
// operator triage.
type NATSDeadLetterSink struct {
	conn    *nats.Conn
	subject string
}

func NewNATSDeadLetterSink(conn *nats.Conn, subject string) *NATSDeadLetterSink {
	if subject == "" {
		subject = DeadLetterSubject
	}
	return &NATSDeadLetterSink{conn: conn, subject: subject}
}

func (s *NATSDeadLetterSink) Record(ctx context.Context, candidate Candidate, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	letter := DeadLetter{
		Candidate:      candidate,
		Reason:         cause.Error(),
		DeadLetteredAt: cdc.TimestampFromTime(time.Now()),
	}

	data, err := json.Marshal(letter)
	if err != nil {
		return errors.Wrap(err, "encode dead letter")
	}

	if err := s.conn.Publish(s.subject, data); err != nil {
		return errors.Wrap(err, "publish dead letter")
	}

	return nil
}

// MemoryDeadLetterSink collects dead letters in memory for tests.
type MemoryDeadLetterSink struct {
	mu      sync.Mutex
	letters []DeadLetter
}

func NewMemoryDeadLetterSink() *MemoryDeadLetterSink {
	return &MemoryDeadLetterSink{}
}

func (s *MemoryDeadLetterSink) Record(ctx context.Context, candidate Candidate, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.letters = append(s.letters, DeadLetter{
		Candidate:      candidate,
		Reason:         cause.Error(),
		DeadLetteredAt: cdc.TimestampFromTime(time.Now()),
	})
	return nil
}

func (s *MemoryDeadLetterSink) Letters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()

	letters := make([]DeadLetter, len(s.letters))
	copy(letters, s.letters)
	return letters
}
