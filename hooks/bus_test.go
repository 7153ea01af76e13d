package hooks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/hooks"
)

func TestBusFanOutOrder(t *testing.T) {
	b := hooks.NewBus()
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		_, err := b.Register(hooks.SubscriberFunc(func(context.Context, hooks.Envelope) error {
			order = append(order, i)
			return nil
		}))
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(context.Background(), hooks.Envelope{Type: hooks.TypeRunCreated}))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestBusStopsAtFirstError(t *testing.T) {
	b := hooks.NewBus()
	boom := errors.New("boom")
	var secondCalled bool

	_, err := b.Register(hooks.SubscriberFunc(func(context.Context, hooks.Envelope) error { return boom }))
	require.NoError(t, err)
	_, err = b.Register(hooks.SubscriberFunc(func(context.Context, hooks.Envelope) error {
		secondCalled = true
		return nil
	}))
	require.NoError(t, err)

	err = b.Publish(context.Background(), hooks.Envelope{})
	assert.ErrorIs(t, err, boom)
	assert.False(t, secondCalled)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	b := hooks.NewBus()
	var calls int
	sub, err := b.Register(hooks.SubscriberFunc(func(context.Context, hooks.Envelope) error {
		calls++
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent

	require.NoError(t, b.Publish(context.Background(), hooks.Envelope{}))
	assert.Equal(t, 0, calls)
}

func TestRegisterNilSubscriberErrors(t *testing.T) {
	b := hooks.NewBus()
	_, err := b.Register(nil)
	assert.Error(t, err)
}
