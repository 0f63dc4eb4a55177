package cdc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperation(t *testing.T) {
	cases := map[string]Operation{
		"c": OperationCreate,
		"u": OperationUpdate,
		"d": OperationDelete,
		"r": OperationSnapshot,
	}

	for code, expected := range cases {
		op, err := ParseOperation(code)
		require.NoError(t, err)
		assert.Equal(t, expected, op)
	}

	_, err := ParseOperation("x")
	assert.Error(t, err)
}

func TestSourcePositionOrder(t *testing.T) {
	assert.True(t, SourcePosition("00000000000000000007").Before("00000000000000000012"))
	assert.False(t, SourcePosition("00000000000000000012").Before("00000000000000000007"))
	assert.False(t, SourcePosition("00000000000000000012").Before("00000000000000000012"))
}

func TestRowKeyRendersNumericIds(t *testing.T) {
	row := Row{"id": float64(42), "rate": 9.5, "code": "E-7"}

	assert.Equal(t, "42", row.Key("id"))
	assert.Equal(t, "9.5", row.Key("rate"))
	assert.Equal(t, "E-7", row.Key("code"))
	assert.Equal(t, "", row.Key("missing"))
}

func TestRowIntAcceptsIntegralFloats(t *testing.T) {
	row := Row{"id": float64(42), "rate": 9.5, "count": int64(3)}

	id, ok := row.Int("id")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	count, ok := row.Int("count")
	assert.True(t, ok)
	assert.Equal(t, int64(3), count)

	_, ok = row.Int("rate")
	assert.False(t, ok)
}

func TestChanged(t *testing.T) {
	before := Row{"status": "active", "grade": float64(3)}
	after := Row{"status": "on_leave", "grade": float64(3)}

	assert.True(t, Changed(before, after, "status"))
	assert.False(t, Changed(before, after, "grade"))
	assert.False(t, Changed(before, after, "absent"))
	assert.True(t, Changed(before, Row{"status": "on_leave"}, "grade"))
}

func TestChangedComparesNestedValues(t *testing.T) {
	before := Row{
		"skills":  []any{"go", "sql"},
		"address": map[string]any{"city": "Taipei", "zip": "100"},
	}
	after := Row{
		"skills":  []any{"go", "sql"},
		"address": map[string]any{"city": "Kaohsiung", "zip": "800"},
	}

	assert.False(t, Changed(before, after, "skills"))
	assert.True(t, Changed(before, after, "address"))
	assert.True(t, Changed(before, Row{"skills": []any{"go"}}, "skills"))
}

func TestChangeEventValidate(t *testing.T) {
	base := func(op Operation, before Row, after Row) *ChangeEvent {
		return &ChangeEvent{
			Table:           "employees",
			Operation:       op,
			Before:          before,
			After:           after,
			SourceTimestamp: time.Now(),
			Position:        "00000000000000000001",
		}
	}

	t.Run("create requires an after image", func(t *testing.T) {
		assert.NoError(t, base(OperationCreate, nil, Row{"id": "1"}).Validate())
		assert.Error(t, base(OperationCreate, Row{"id": "1"}, nil).Validate())
	})

	t.Run("delete requires a before image", func(t *testing.T) {
		assert.NoError(t, base(OperationDelete, Row{"id": "1"}, nil).Validate())
		assert.Error(t, base(OperationDelete, nil, Row{"id": "1"}).Validate())
	})

	t.Run("update requires both images", func(t *testing.T) {
		assert.NoError(t, base(OperationUpdate, Row{"id": "1"}, Row{"id": "1"}).Validate())
		assert.Error(t, base(OperationUpdate, nil, Row{"id": "1"}).Validate())
		assert.Error(t, base(OperationUpdate, Row{"id": "1"}, nil).Validate())
	})

	t.Run("snapshot behaves like create", func(t *testing.T) {
		assert.NoError(t, base(OperationSnapshot, nil, Row{"id": "1"}).Validate())
	})

	t.Run("position is mandatory", func(t *testing.T) {
		change := base(OperationCreate, nil, Row{"id": "1"})
		change.Position = ""
		assert.Error(t, change.Validate())
	})
}

func TestAggregateKeyUsesLatestImage(t *testing.T) {
	update := &ChangeEvent{
		Table:     "employees",
		Operation: OperationUpdate,
		Before:    Row{"id": float64(7)},
		After:     Row{"id": float64(7)},
	}
	assert.Equal(t, "employees/7", update.AggregateKey())

	deletion := &ChangeEvent{
		Table:     "departments",
		Operation: OperationDelete,
		Before:    Row{"id": "ops"},
	}
	assert.Equal(t, "departments/ops", deletion.AggregateKey())
}
