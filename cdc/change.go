package cdc

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Operation int

const (
	OperationUnknown Operation = iota
	OperationCreate
	OperationUpdate
	OperationDelete
	OperationSnapshot
)

func (op Operation) String() string {
	switch op {
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	case OperationSnapshot:
		return "snapshot"
	}
	return "unknown"
}

// ParseOperation maps the single-letter operation codes used by the
// upstream log reader ("c", "u", "d", "r") to an Operation.
func ParseOperation(code string) (Operation, error) {
	switch code {
	case "c":
		return OperationCreate, nil
	case "u":
		return OperationUpdate, nil
	case "d":
		return OperationDelete, nil
	case "r":
		return OperationSnapshot, nil
	}
	return OperationUnknown, errors.Errorf("unknown operation code %q", code)
}

// SourcePosition is an opaque, totally ordered token identifying a point
// in the source replication log. Comparing positions as strings must agree
// with the source order, so producers are expected to zero-pad numeric
// components.
type SourcePosition string

func (p SourcePosition) String() string {
	return string(p)
}

func (p SourcePosition) Before(other SourcePosition) bool {
	return strings.Compare(string(p), string(other)) < 0
}

// Row is the captured image of a single record, column name to value.
type Row map[string]any

func (r Row) String(column string) (string, bool) {
	value, ok := r[column]
	if !ok || value == nil {
		return "", false
	}

	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

func (r Row) Int(column string) (int64, bool) {
	value, ok := r[column]
	if !ok || value == nil {
		return 0, false
	}

	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	}
	return 0, false
}

func (r Row) Float(column string) (float64, bool) {
	value, ok := r[column]
	if !ok || value == nil {
		return 0, false
	}

	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// Key renders a column value as a stable string identifier. Integral
// floats, which JSON decoding produces for numeric ids, render without a
// fractional part.
func (r Row) Key(column string) string {
	if s, ok := r.String(column); ok {
		return s
	}
	if f, ok := r.Float(column); ok {
		if f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// Changed reports whether a column's value differs between two images.
// A column absent from both images is unchanged. Decoded JSON values may
// be nested slices or maps, so comparison goes through reflect.DeepEqual.
func Changed(before Row, after Row, column string) bool {
	b, bok := before[column]
	a, aok := after[column]
	if bok != aok {
		return true
	}
	if !bok {
		return false
	}
	return !reflect.DeepEqual(b, a)
}

// ChangeEvent is one captured row mutation from the source database's
// replication log. It is produced by the upstream log reader and never
// mutated once constructed.
type ChangeEvent struct {
	Table           string         `json:"table"`
	Operation       Operation      `json:"operation"`
	Before          Row            `json:"before,omitempty"`
	After           Row            `json:"after,omitempty"`
	SourceTimestamp time.Time      `json:"sourceTimestamp"`
	Position        SourcePosition `json:"sourcePosition"`
}

// Validate checks the image invariant: the operation determines which of
// the before/after images must be present.
func (c *ChangeEvent) Validate() error {
	if c.Table == "" {
		return errors.New("change event missing table")
	}
	if c.Position == "" {
		return errors.New("change event missing source position")
	}

	switch c.Operation {
	case OperationCreate, OperationSnapshot:
		if c.After == nil {
			return errors.Errorf("%s event for %s missing after image", c.Operation, c.Table)
		}
	case OperationDelete:
		if c.Before == nil {
			return errors.Errorf("delete event for %s missing before image", c.Table)
		}
	case OperationUpdate:
		if c.Before == nil || c.After == nil {
			return errors.Errorf("update event for %s requires both images", c.Table)
		}
	default:
		return errors.Errorf("change event for %s has unknown operation", c.Table)
	}

	return nil
}

// Image returns the most recent row image: the after image when present,
// otherwise the before image.
func (c *ChangeEvent) Image() Row {
	if c.After != nil {
		return c.After
	}
	return c.Before
}

// AggregateKey derives the routing key for the change from its primary row
// identity. All changes with the same key must be processed in source order.
func (c *ChangeEvent) AggregateKey() string {
	return c.Table + "/" + c.Image().Key("id")
}
