package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "tally/pkg/domain-errors"
)

// =============================================================================
// Retry Policy Test Suite
// =============================================================================

type RetryPolicySuite struct {
	suite.Suite
	policy RetryPolicy
}

func TestRetryPolicySuite(t *testing.T) {
	suite.Run(t, new(RetryPolicySuite))
}

func (s *RetryPolicySuite) SetupTest() {
	s.policy = RetryPolicy{
		MaxAttempts: 3,
		Timeout:     time.Second,
		BackoffBase: time.Millisecond,
	}
}

func (s *RetryPolicySuite) TestDo() {
	ctx := context.Background()

	s.Run("first success makes a single attempt", func() {
		attempts := 0
		err := s.policy.Do(ctx, nil, "charge", func(context.Context) error {
			attempts++
			return nil
		})
		s.NoError(err)
		s.Equal(1, attempts)
	})

	s.Run("recovers within the budget", func() {
		attempts := 0
		err := s.policy.Do(ctx, nil, "charge", func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("processor 503")
			}
			return nil
		})
		s.NoError(err)
		s.Equal(3, attempts)
	})

	s.Run("exhaustion reports gateway unavailable with the last cause", func() {
		cause := errors.New("connection reset")
		attempts := 0
		err := s.policy.Do(ctx, nil, "refund", func(context.Context) error {
			attempts++
			return cause
		})
		s.Error(err)
		s.Equal(3, attempts)
		s.True(dErrors.HasCode(err, dErrors.CodeGatewayUnavailable))
		s.ErrorIs(err, cause)
	})

	s.Run("cancelled context stops retrying", func() {
		cancelled, cancel := context.WithCancel(ctx)
		attempts := 0
		err := s.policy.Do(cancelled, nil, "charge", func(context.Context) error {
			attempts++
			cancel()
			return errors.New("processor 503")
		})
		s.ErrorIs(err, context.Canceled)
		s.Equal(1, attempts)
	})
}
