package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineErrorIsKind(t *testing.T) {
	err := NewInvalidProbability("sizer", "Kelly", "win rate %.2f outside (0,1)", 1.2)

	assert.True(t, stderrors.Is(err, ErrInvalidProbability))
	assert.False(t, stderrors.Is(err, ErrInvalidParameter))
	assert.Contains(t, err.Error(), "win rate 1.20")

	wrapped := fmt.Errorf("sizing trade: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrInvalidProbability))
}

func TestEngineErrorContextAndUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := NewStorageError("modelstore", "Save", cause).WithContext("token", "BTC")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "token=BTC")
	assert.Contains(t, err.Error(), "disk full")

	category, ok := CategoryOf(fmt.Errorf("outer: %w", err))
	assert.True(t, ok)
	assert.Equal(t, ErrorCategoryStorage, category)
}

func TestModelNotFound(t *testing.T) {
	err := NewModelNotFound("modelstore", "Load", "ETH", 7)

	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.Contains(t, err.Error(), "version=7")
}

func TestTimeoutWrapsCause(t *testing.T) {
	cause := stderrors.New("context deadline exceeded")
	err := NewTimeout("runner", "WithDeadline", cause)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, cause)
}
