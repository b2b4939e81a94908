//go:build integration

package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/storefront-sales/internal/testenv"
	"github.com/dmehra2102/storefront-sales/pkg/idempotency"
)

func TestStoreRemembersUntilTTL(t *testing.T) {
	ctx := context.Background()
	env, err := testenv.Setup(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { env.Teardown(context.Background()) })

	opts, err := redis.ParseURL(env.RedisURL)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	store := idempotency.NewStore(rdb, time.Second)
	key := store.Key("payment-event", "evt_1")
	assert.Equal(t, "idem:payment-event:evt_1", key)

	seen, err := store.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Remember(ctx, key))
	seen, err = store.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)

	assert.Eventually(t, func() bool {
		seen, err := store.Seen(ctx, key)
		return err == nil && !seen
	}, 5*time.Second, 100*time.Millisecond)
}
