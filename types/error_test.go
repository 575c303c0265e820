package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := NewNotFoundError("checkpoint", "cp-1")
	assert.Equal(t, "[NOT_FOUND] checkpoint not found: cp-1", err.Error())

	wrapped := NewStorageError(ErrStorageTimeout, "save failed", errors.New("context deadline exceeded"))
	assert.Contains(t, wrapped.Error(), "STORAGE_TIMEOUT")
	assert.Contains(t, wrapped.Error(), "context deadline exceeded")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStorageError(ErrStorageConnection, "redis unavailable", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestError_Predicates(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFoundError("thread", "t-1")))
	assert.False(t, IsNotFound(NewValidationError("duplicate branch name")))

	assert.True(t, IsValidation(NewValidationError("duplicate branch name")))
	assert.True(t, IsValidation(NewInvalidTransitionError("completed", "active")))

	assert.True(t, IsStorage(NewStorageError(ErrStorageCapacity, "disk full", nil)))
	assert.False(t, IsStorage(NewNotFoundError("snapshot", "s-1")))

	assert.False(t, IsRetryable(NewValidationError("bad input")))
	assert.True(t, IsRetryable(NewStorageError(ErrStorageTimeout, "slow", nil).WithRetryable(true)))
}

func TestError_PredicatesThroughWrapping(t *testing.T) {
	inner := NewNotFoundError("checkpoint", "cp-9").WithOp("fork").WithThreadID("t-1")
	outer := fmt.Errorf("fork thread: %w", inner)

	assert.True(t, IsNotFound(outer))
	assert.Equal(t, ErrNotFound, GetErrorCode(outer))
	assert.Equal(t, "fork", AsError(outer).Op)
	assert.Equal(t, "t-1", AsError(outer).ThreadID)
}

func TestGetErrorCode_PlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.Nil(t, AsError(errors.New("plain")))
}
