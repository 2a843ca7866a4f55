package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeNotFound, "snapshot not found")
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeNotFound, err.Code)
	assert.Equal(t, "snapshot not found", err.Message)
	assert.Nil(t, err.Cause)
	assert.Equal(t, "[NOT_FOUND] snapshot not found", err.Error())
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrCodeTransport, "opening session", cause)

	assert.Equal(t, ErrCodeTransport, err.Code)
	assert.True(t, errors.Is(err, cause), "expected cause to be wrapped")
	assert.Equal(t, "[TRANSPORT] opening session: connection refused", err.Error())
}

func TestNewWithContext(t *testing.T) {
	err := NewWithContext(ErrCodeDeviceRejected, "rollback", map[string]any{"hostname": "R1"})
	assert.Equal(t, "R1", err.Context["hostname"])
	assert.Nil(t, err.Cause)
}

func TestWrapWithContext(t *testing.T) {
	cause := errors.New("boom")
	err := WrapWithContext(ErrCodeStoreFault, "pointer", cause, map[string]any{"snapshot": "abc"})
	assert.Equal(t, "abc", err.Context["snapshot"])
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain error", err: errors.New("x"), want: ""},
		{name: "structured", err: New(ErrCodeEmptyConfig, "empty"), want: ErrCodeEmptyConfig},
		{name: "wrapped by fmt", err: fmt.Errorf("backup: %w", New(ErrCodeTransport, "t")), want: ErrCodeTransport},
		{name: "outermost wins", err: Wrap(ErrCodeStoreFault, "outer", New(ErrCodeNotFound, "inner")), want: ErrCodeStoreFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	inner := New(ErrCodeNotFound, "inner")
	outer := Wrap(ErrCodeStoreFault, "outer", fmt.Errorf("ctx: %w", inner))

	assert.True(t, Is(outer, ErrCodeStoreFault))
	assert.True(t, Is(outer, ErrCodeNotFound))
	assert.False(t, Is(outer, ErrCodeTransport))
	assert.False(t, Is(errors.New("plain"), ErrCodeNotFound))
	assert.False(t, Is(nil, ErrCodeNotFound))
}
