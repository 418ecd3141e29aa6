//go:build integration

package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestNewClient(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)
	uri, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	c, err := NewClient(ctx, Options{Addr: strings.TrimPrefix(uri, "redis://"), DB: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.NoError(t, c.Check(ctx))

	_, err = NewClient(ctx, Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}, nil)
	assert.ErrorContains(t, err, "redis ping 127.0.0.1:1")
}
