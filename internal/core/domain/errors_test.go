package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("execute: %w", AlreadyExecuted("co-1"))

	assert.ErrorIs(t, err, ErrAlreadyExecuted)
	assert.NotErrorIs(t, err, ErrNotExecuted)
	assert.Equal(t, CodeAlreadyExecuted, CodeOf(err))
}

func TestError_StorageUnavailableUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := StorageUnavailable(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeOf_NonEngineError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("boom")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestSlotArithmetic(t *testing.T) {
	s := Slot{Quantity: 3, Capacity: 10, ParLevel: 8}
	assert.Equal(t, 5, s.Shortfall())
	assert.Equal(t, 7, s.Room())

	full := Slot{Quantity: 10, Capacity: 10, ParLevel: 8}
	assert.Equal(t, 0, full.Shortfall())
	assert.Equal(t, 0, full.Room())
}
