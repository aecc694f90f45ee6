package redis

import (
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
)

// newTestRedisClient returns a client on a fresh miniredis server. Both are
// torn down with the test.
func newTestRedisClient(t *testing.T) (*redislib.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

// storedKey is the raw Redis key a store writes for one identity.
func storedKey(parts ...string) string {
	return keyPrefix + strings.Join(parts, ":")
}
