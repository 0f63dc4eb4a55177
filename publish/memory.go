package publish

import (
	"context"
	"sync"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// MemoryEventLog is an in-memory EventLog for tests and local wiring.
type MemoryEventLog struct {
	mu      sync.Mutex
	records map[cdc.EventID]Record
	order   []cdc.EventID
	failing error
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{records: make(map[cdc.EventID]Record)}
}

// FailWith makes subsequent inserts return err; nil restores service.
func (l *MemoryEventLog) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing = err
}

func (l *MemoryEventLog) InsertIfAbsent(ctx context.Context, event *cdc.DomainEvent) (InsertResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failing != nil {
		return AlreadyPresent, l.failing
	}

	if _, exists := l.records[event.EventID]; exists {
		return AlreadyPresent, nil
	}

	l.records[event.EventID] = RecordOf(event)
	l.order = append(l.order, event.EventID)
	return Inserted, nil
}

func (l *MemoryEventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns the stored records in insertion order.
func (l *MemoryEventLog) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := make([]Record, 0, len(l.order))
	for _, id := range l.order {
		records = append(records, l.records[id])
	}
	return records
}

// MemoryTransport records bus sends for tests. FailNext scripts transient
// send failures to exercise the retry path.
type MemoryTransport struct {
	mu       sync.Mutex
	sent     []SentMessage
	failures int
	failWith error
}

type SentMessage struct {
	Subject string
	Data    []byte
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{}
}

func (t *MemoryTransport) FailNext(n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = n
	t.failWith = err
}

func (t *MemoryTransport) Send(ctx context.Context, subject string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failures > 0 {
		t.failures--
		return t.failWith
	}

	t.sent = append(t.sent, SentMessage{Subject: subject, Data: data})
	return nil
}

func (t *MemoryTransport) Sent() []SentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	sent := make([]SentMessage, len(t.sent))
	copy(sent, t.sent)
	return sent
}
