package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"app error", NewInvalidCredentialsError(), ErrCodeInvalidCredentials},
		{"wrapped app error", fmt.Errorf("link: %w", NewAccountNotFoundError("a@b.co")), ErrCodeAccountNotFound},
		{"plain error", stderrors.New("boom"), ErrCodeUnknown},
		{"nil", nil, ErrCodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewStorageError("resolve identity", cause)

	assert.Equal(t, "[STORAGE_ERROR] Storage operation failed: resolve identity: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.IsInternal())
	assert.Equal(t, "resolve identity", err.Details["operation"])
}

func TestAppError_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewInvalidCredentialsError())
	assert.ErrorIs(t, err, &AppError{Code: ErrCodeInvalidCredentials})
	assert.NotErrorIs(t, err, &AppError{Code: ErrCodeAccountNotFound})
}

func TestCredentialFailures(t *testing.T) {
	assert.True(t, NewAccountNotFoundError("x@y.z").IsCredentialFailure())
	assert.True(t, NewInvalidCredentialsError().IsCredentialFailure())
	assert.True(t, NewUserLinkedElsewhereError(7).IsCredentialFailure())
	assert.False(t, NewStorageError("op", nil).IsCredentialFailure())
}

func TestDescribeAndTimestamp(t *testing.T) {
	appErr := NewValidationError("email", "invalid format")
	assert.Equal(t, "Validation failed for field 'email': invalid format", Describe(appErr))
	assert.Equal(t, appErr.Timestamp, TimestampOf(appErr))

	plain := stderrors.New("plain")
	assert.Equal(t, "plain", Describe(plain))
	require.False(t, TimestampOf(plain).IsZero())
	assert.Equal(t, "", Describe(nil))
}
