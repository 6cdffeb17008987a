package trust_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/mcpcreds/internal/trust"
)

func envWith(value string, set bool) trust.LookupEnvFunc {
	return func(key string) (string, bool) {
		if key == trust.IDEWorkspaceTrustEnv && set {
			return value, true
		}
		return "", false
	}
}

func TestEnvOverride(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		set   bool
		want  trust.Verdict
	}{
		{name: "true", value: "true", set: true, want: trust.Trusted},
		{name: "false", value: "false", set: true, want: trust.Untrusted},
		{name: "unset", want: trust.Unset},
		{name: "other", value: "yes", set: true, want: trust.Unset},
		{name: "empty", value: "", set: true, want: trust.Unset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, trust.EnvOverride(envWith(tt.value, tt.set)))
		})
	}
}

func TestIDEOverridePrefersNotifier(t *testing.T) {
	t.Parallel()

	n := trust.NewNotifier()
	override := trust.IDEOverride(n, envWith("false", true))

	assert.Equal(t, trust.Untrusted, override(), "environment applies until the IDE publishes")

	n.Publish(true)
	assert.Equal(t, trust.Trusted, override())

	assert.Equal(t, trust.Untrusted, trust.IDEOverride(nil, envWith("false", true))())
}

func TestNotifier(t *testing.T) {
	t.Parallel()

	n := trust.NewNotifier()
	assert.Equal(t, trust.Unset, n.Current())

	var first, second []bool
	unsubscribeFirst := n.Subscribe(func(trusted bool) { first = append(first, trusted) })
	unsubscribeSecond := n.Subscribe(func(trusted bool) { second = append(second, trusted) })

	n.Publish(true)
	unsubscribeFirst()
	unsubscribeFirst()
	n.Publish(false)
	unsubscribeSecond()
	n.Publish(true)

	assert.Equal(t, []bool{true}, first)
	assert.Equal(t, []bool{true, false}, second)
	assert.Equal(t, trust.Trusted, n.Current())
}

func TestNotifierSubscriberMayUnsubscribeItself(t *testing.T) {
	t.Parallel()

	n := trust.NewNotifier()
	var calls atomic.Int32
	var unsubscribe func()
	unsubscribe = n.Subscribe(func(bool) {
		calls.Add(1)
		unsubscribe()
	})

	n.Publish(true)
	n.Publish(true)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolverUsesNotifier(t *testing.T) {
	t.Parallel()

	n := trust.NewNotifier()
	r, _ := newResolver(t, nil, trust.WithOverride(trust.IDEOverride(n, envWith("", false))))

	dir := t.TempDir()
	v, err := r.Effective(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, trust.Unset, v)

	n.Publish(false)
	v, err = r.Effective(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, trust.Untrusted, v)
}

func TestRelauncherSchedule(t *testing.T) {
	t.Parallel()

	var relaunched atomic.Bool
	start := time.Now()
	r := trust.NewRelauncher(20*time.Millisecond, trust.WithRelaunchFunc(func() error {
		relaunched.Store(true)
		return nil
	}))

	select {
	case err := <-r.Schedule(context.Background()):
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relaunch did not happen")
	}
	assert.True(t, relaunched.Load())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRelauncherPropagatesError(t *testing.T) {
	t.Parallel()

	failure := errors.New("exec failed")
	r := trust.NewRelauncher(time.Millisecond, trust.WithRelaunchFunc(func() error { return failure }))
	require.ErrorIs(t, <-r.Schedule(context.Background()), failure)
}

func TestRelauncherCancelled(t *testing.T) {
	t.Parallel()

	var relaunched atomic.Bool
	r := trust.NewRelauncher(time.Hour, trust.WithRelaunchFunc(func() error {
		relaunched.Store(true)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := r.Schedule(ctx)
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, relaunched.Load())
}
