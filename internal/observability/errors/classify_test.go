package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/target/agentops-console/internal/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"app error", apperrors.InvalidCredentials("bad"), "invalid_credentials"},
		{"wrapped app error", fmt.Errorf("refresh: %w", apperrors.RefreshFailure(nil)), "refresh_failure"},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"net error", fmt.Errorf("dial: %w", &net.OpError{Op: "dial", Err: errors.New("refused")}), "errors_errorstring"},
		{"plain", errors.New("boom"), "errors_errorstring"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
