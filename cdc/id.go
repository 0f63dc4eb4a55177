package cdc

import (
	"bytes"
	"crypto/sha256"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// DeriveEventID builds the deterministic idempotency key for a candidate
// domain event. The time component comes from the change's commit timestamp
// and the entropy from a digest of the cause (source position, table, rule,
// candidate index), so re-detecting the same change yields the same id while
// ids across the stream remain lexically time-sortable.
func DeriveEventID(change *ChangeEvent, rule string, index int) EventID {
	cause := strings.Join(
		[]string{change.Position.String(), change.Table, rule, strconv.Itoa(index)},
		"|",
	)
	digest := sha256.Sum256([]byte(cause))

	id := ulid.MustNew(ulid.Timestamp(change.SourceTimestamp), bytes.NewReader(digest[:]))
	return EventID(id.String())
}
