package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: ErrTimeout},
		{name: "wrapped deadline", err: fmt.Errorf("post: %w", context.DeadlineExceeded), want: ErrTimeout},
		{name: "other", err: errors.New("connection refused"), want: ErrUnavailable},
		{name: "already classified", err: fmt.Errorf("x: %w", ErrTimeout), want: ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Classify("op", tt.err), tt.want)
		})
	}

	assert.NoError(t, Classify("op", nil))
}

func TestApplyOptions(t *testing.T) {
	defaults := Options{Temperature: 0.7, TopP: 0.9, MaxTokens: 1024}
	got := ApplyOptions(defaults, WithMaxTokens(256), WithJSONResponse())

	assert.Equal(t, 256, got.MaxTokens)
	assert.True(t, got.JSON)
	assert.Equal(t, 0.7, got.Temperature)
	assert.Equal(t, 1024, defaults.MaxTokens)
}
