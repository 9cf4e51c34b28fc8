package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	"github.com/ledgerguard/ledgerguard/model"
)

func newTestCache(t *testing.T) Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := newRedisCache([]string{mr.Addr()})
	assert.NoError(t, err)
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	stored := model.Account{Number: "1000000001", Balance: 10000, Active: true}
	err := c.Set(ctx, "account:1000000001", stored, 10*time.Second)
	assert.NoError(t, err)

	var got model.Account
	err = c.Get(ctx, "account:1000000001", &got)
	assert.NoError(t, err)
	assert.Equal(t, stored.Number, got.Number)
	assert.Equal(t, stored.Balance, got.Balance)
}

func TestCacheMissIsNotAnError(t *testing.T) {
	c := newTestCache(t)

	var got model.Account
	err := c.Get(context.Background(), "account:missing", &got)
	assert.NoError(t, err)
	assert.Empty(t, got.Number)
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	assert.NoError(t, c.Set(ctx, "account:1000000001", model.Account{Number: "1000000001"}, 10*time.Second))
	assert.NoError(t, c.Delete(ctx, "account:1000000001"))

	var got model.Account
	assert.NoError(t, c.Get(ctx, "account:1000000001", &got))
	assert.Empty(t, got.Number)
}
