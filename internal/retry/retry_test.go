package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
	"github.com/tensorzero/gateway/internal/provider/providermock"
	"github.com/tensorzero/gateway/internal/retry"
)

func providers(n int) []gwconfig.ModelProviderConfig {
	out := make([]gwconfig.ModelProviderConfig, n)
	for i := range out {
		out[i] = gwconfig.ModelProviderConfig{Type: provider.TypeDummy, ModelName: "dummy::good"}
	}

	return out
}

func TestRun_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0

	outcome := retry.Run(context.Background(), providers(1), gwconfig.RetryConfig{NumRetries: 2}, 0,
		func(ctx context.Context, p gwconfig.ModelProviderConfig) (*gwtypes.ModelInferenceResponse, error) {
			calls++
			return &gwtypes.ModelInferenceResponse{}, nil
		})

	require.NoError(t, outcome.Err)
	require.Equal(t, 1, calls)
	require.Len(t, outcome.Attempts, 1)
}

func TestRun_RetriesRetryableErrorThenSucceeds(t *testing.T) {
	calls := 0

	outcome := retry.Run(context.Background(), providers(1), gwconfig.RetryConfig{NumRetries: 2}, 0,
		func(ctx context.Context, p gwconfig.ModelProviderConfig) (*gwtypes.ModelInferenceResponse, error) {
			calls++
			if calls < 2 {
				return &gwtypes.ModelInferenceResponse{Errored: true}, &gwerrors.Error{Kind: gwerrors.KindInferenceServer, Retryable: true}
			}

			return &gwtypes.ModelInferenceResponse{}, nil
		})

	require.NoError(t, outcome.Err)
	require.Equal(t, 2, calls)
	require.Len(t, outcome.Attempts, 2)
}

func TestRun_NonRetryableAdvancesToNextProvider(t *testing.T) {
	var seen []string

	outcome := retry.Run(context.Background(), providers(2), gwconfig.RetryConfig{NumRetries: 2}, 0,
		func(ctx context.Context, p gwconfig.ModelProviderConfig) (*gwtypes.ModelInferenceResponse, error) {
			seen = append(seen, p.ModelName)
			return &gwtypes.ModelInferenceResponse{Errored: true}, &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Retryable: false}
		})

	require.Error(t, outcome.Err)
	require.Len(t, seen, 2) // one attempt per provider, no retries since non-retryable
}

func TestRun_AllProvidersExhausted(t *testing.T) {
	outcome := retry.Run(context.Background(), providers(2), gwconfig.RetryConfig{NumRetries: 0}, 0,
		func(ctx context.Context, p gwconfig.ModelProviderConfig) (*gwtypes.ModelInferenceResponse, error) {
			return &gwtypes.ModelInferenceResponse{Errored: true}, &gwerrors.Error{Kind: gwerrors.KindInferenceServer, Retryable: true}
		})

	require.Error(t, outcome.Err)

	ge, ok := gwerrors.As(outcome.Err)
	require.True(t, ok)
	require.Equal(t, gwerrors.KindModelProvidersExhausted, ge.Kind)
	require.Len(t, outcome.Attempts, 2)
}

func TestRun_RespectsMaxAttemptsPerProvider(t *testing.T) {
	calls := 0

	retry.Run(context.Background(), providers(1), gwconfig.RetryConfig{NumRetries: 3}, 0,
		func(ctx context.Context, p gwconfig.ModelProviderConfig) (*gwtypes.ModelInferenceResponse, error) {
			calls++
			return &gwtypes.ModelInferenceResponse{Errored: true}, &gwerrors.Error{Kind: gwerrors.KindInferenceServer, Retryable: true}
		})

	require.Equal(t, 4, calls) // 1 + num_retries
}

func TestRun_AttemptTimeoutIsRetried(t *testing.T) {
	calls := 0

	outcome := retry.Run(context.Background(), providers(1), gwconfig.RetryConfig{NumRetries: 1}, 10*time.Millisecond,
		func(ctx context.Context, p gwconfig.ModelProviderConfig) (*gwtypes.ModelInferenceResponse, error) {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}

			return &gwtypes.ModelInferenceResponse{}, nil
		})

	require.NoError(t, outcome.Err)
	require.Equal(t, 2, calls)
}

// TestRun_RetriesExactCallCountOnChatter verifies Run's attempt counting
// against a real provider.Chatter mock rather than a plain closure counter:
// one provider, 2 retries configured, every call errors retryably, so the
// underlying Chatter must be invoked exactly 1+num_retries times and no
// more. Behavior (call count), not returned state, is what this test
// checks, so gomock's Times expectation is the right tool.
func TestRun_RetriesExactCallCountOnChatter(t *testing.T) {
	ctrl := gomock.NewController(t)

	chatter := providermock.NewMockChatter(ctrl)
	chatter.EXPECT().
		Infer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&gwtypes.ModelInferenceResponse{Errored: true}, &gwerrors.Error{Kind: gwerrors.KindInferenceServer, Retryable: true}).
		Times(3)

	outcome := retry.Run(context.Background(), providers(1), gwconfig.RetryConfig{NumRetries: 2}, 0,
		func(ctx context.Context, p gwconfig.ModelProviderConfig) (*gwtypes.ModelInferenceResponse, error) {
			return chatter.Infer(ctx, &gwtypes.Request{}, p.ProviderConfig(), provider.Credentials{})
		})

	require.Error(t, outcome.Err)

	ge, ok := gwerrors.As(outcome.Err)
	require.True(t, ok)
	require.Equal(t, gwerrors.KindModelProvidersExhausted, ge.Kind)
}

// TestRun_FallsBackToNextProviderExactlyOnce checks the cross-provider
// fallback call count: the first provider's Chatter is invoked once (its
// error is non-retryable, so Run advances immediately) and the second
// provider's Chatter is invoked once and succeeds.
func TestRun_FallsBackToNextProviderExactlyOnce(t *testing.T) {
	ctrl := gomock.NewController(t)

	failing := providermock.NewMockChatter(ctrl)
	failing.EXPECT().
		Infer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&gwtypes.ModelInferenceResponse{Errored: true}, &gwerrors.Error{Kind: gwerrors.KindInferenceClient, Retryable: false}).
		Times(1)

	succeeding := providermock.NewMockChatter(ctrl)
	succeeding.EXPECT().
		Infer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&gwtypes.ModelInferenceResponse{}, nil).
		Times(1)

	chatters := map[string]*providermock.MockChatter{"dummy::a": failing, "dummy::b": succeeding}
	providerList := []gwconfig.ModelProviderConfig{
		{Type: provider.TypeDummy, ModelName: "dummy::a"},
		{Type: provider.TypeDummy, ModelName: "dummy::b"},
	}

	outcome := retry.Run(context.Background(), providerList, gwconfig.RetryConfig{NumRetries: 2}, 0,
		func(ctx context.Context, p gwconfig.ModelProviderConfig) (*gwtypes.ModelInferenceResponse, error) {
			return chatters[p.ModelName].Infer(ctx, &gwtypes.Request{}, p.ProviderConfig(), provider.Credentials{})
		})

	require.NoError(t, outcome.Err)
}
