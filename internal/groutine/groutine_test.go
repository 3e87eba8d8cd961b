package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_PropagatesName(t *testing.T) {
	got := make(chan string, 1)

	Go(nil, "worker-42", nil, func(ctx context.Context) { //nolint:staticcheck // nil parent is supported
		got <- GetName(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGo_RecoversAndLogsPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()

	Go(context.Background(), "exploding", logger, func(context.Context) {
		panic("boom")
	})

	require.Eventually(t, func() bool { return hook.LastEntry() != nil }, time.Second, 5*time.Millisecond)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "exploding", entry.Data["goroutine"])
	assert.Equal(t, "boom", entry.Data["panic"])
}

func TestGetName_WithoutName(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	assert.Equal(t, "", GetName(nil)) //nolint:staticcheck // nil context is handled
}
