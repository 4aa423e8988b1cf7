package host

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(10)

	for i := 0; i < 10; i++ {
		assert.NoError(t, q.Check("tx-1"), "step %d should be allowed", i+1)
	}
	assert.Equal(t, 10, q.Current())
	assert.Equal(t, 10, q.MaxSteps())
}

func TestQuotaEnforcer_ExceedsLimit(t *testing.T) {
	q := NewQuotaEnforcer(2)
	require.NoError(t, q.Check("tx-1"))
	require.NoError(t, q.Check("tx-1"))

	err := q.Check("tx-1")
	var stepsErr *StepsExceededError
	require.ErrorAs(t, err, &stepsErr)
	assert.Equal(t, "tx-1", stepsErr.TxToken)
	assert.Equal(t, 3, stepsErr.Steps)
	assert.Equal(t, 2, stepsErr.Limit)
	assert.Contains(t, err.Error(), "3 steps > 2 limit")
}

func TestIsStepsExceededError(t *testing.T) {
	err := &StepsExceededError{TxToken: "tx-1", Steps: 5, Limit: 4}
	assert.True(t, IsStepsExceededError(err))
	assert.True(t, IsStepsExceededError(fmt.Errorf("dispatch: %w", err)))
	assert.False(t, IsStepsExceededError(fmt.Errorf("other")))
	assert.False(t, IsStepsExceededError(nil))
}
