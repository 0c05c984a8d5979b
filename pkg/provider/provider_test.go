package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/discoproj/disco/pkg/backoff"
	"github.com/stretchr/testify/require"
)

type fakeAPIError struct{ code string }

func (e fakeAPIError) Error() string                    { return e.code }
func (e fakeAPIError) ErrorCode() string                { return e.code }
func (e fakeAPIError) ErrorMessage() string              { return e.code }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault     { return smithy.FaultUnknown }

func TestIsTransientMatchesThrottling(t *testing.T) {
	require.True(t, isTransient(fakeAPIError{code: "Throttling"}))
	require.True(t, isTransient(fakeAPIError{code: "RequestLimitExceeded"}))
	require.False(t, isTransient(fakeAPIError{code: "AccessDenied"}))
	require.False(t, isTransient(errors.New("boom")))
}

func TestIsNotFoundMatchesIAMAndS3(t *testing.T) {
	require.True(t, isNotFound(fakeAPIError{code: "NoSuchEntity"}))
	require.True(t, isNotFound(fakeAPIError{code: "NoSuchBucket"}))
	require.False(t, isNotFound(fakeAPIError{code: "AccessDenied"}))
}

func TestRetryStopsOnNonTransientError(t *testing.T) {
	p := &AWS{policy: backoff.Policy{Base: time.Millisecond, Cap: time.Millisecond}}
	attempts := 0
	err := p.retry(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		return fakeAPIError{code: "AccessDenied"}
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	p := &AWS{policy: backoff.Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxRetries: 6}}
	attempts := 0
	err := p.retry(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return fakeAPIError{code: "Throttling"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	p := &AWS{policy: backoff.Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxRetries: 2}}
	attempts := 0
	err := p.retry(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		return fakeAPIError{code: "Throttling"}
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts) // attempt 0, 1, then Done(2) trips
}
