package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSentinelMatching(t *testing.T) {
	err := Conflict("order %d already consumed", 42)

	assert.True(t, Is(err, ErrConflict))
	assert.False(t, Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "order 42 already consumed")
}

func TestTransientWrapsCause(t *testing.T) {
	cause := New("connection refused")
	err := Transient(cause, "read order %d", 7)

	assert.True(t, Is(err, ErrTransient))
	assert.True(t, Is(err, cause))
	assert.Equal(t, cause, Unwrap(err))
}

func TestMatchingSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handling request: %w", Liquidity("not enough depth"))

	assert.True(t, Is(err, ErrLiquidity))
	assert.Equal(t, KindLiquidity, KindOf(err))
	assert.Equal(t, "not enough depth", Reason(err))
}

func TestPlainErrorsCollapse(t *testing.T) {
	err := New("pq: relation does not exist")

	assert.Equal(t, Kind(""), KindOf(err))
	assert.Equal(t, "internal error", Reason(err))
}
