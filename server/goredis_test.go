package server

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGoRedisClient(t *testing.T, addr string, proto int, password string) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		Protocol: proto,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestGoRedisCompatibility(t *testing.T) {
	for _, proto := range []int{2, 3} {
		t.Run(fmt.Sprintf("RESP%d", proto), func(t *testing.T) {
			srv := startTestServer(t)
			client := newGoRedisClient(t, srv.Addr(), proto, "")
			ctx := context.Background()

			pong, err := client.Ping(ctx).Result()
			require.NoError(t, err)
			assert.Equal(t, "PONG", pong)

			require.NoError(t, client.Set(ctx, "key", "value", 0).Err())
			val, err := client.Get(ctx, "key").Result()
			require.NoError(t, err)
			assert.Equal(t, "value", val)

			_, err = client.Get(ctx, "missing").Result()
			assert.ErrorIs(t, err, redis.Nil)

			echo, err := client.Echo(ctx, "hi").Result()
			require.NoError(t, err)
			assert.Equal(t, "hi", echo)

			require.NoError(t, client.HSet(ctx, "h", "f1", "v1", "f2", "v2").Err())
			fields, err := client.HGetAll(ctx, "h").Result()
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, fields)

			err = client.Do(ctx, "nope").Err()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unknown command")
		})
	}
}

func TestGoRedisDoubleReply(t *testing.T) {
	srv := startTestServer(t)
	ctx := context.Background()

	resp2 := newGoRedisClient(t, srv.Addr(), 2, "")
	v, err := resp2.Do(ctx, "score").Result()
	require.NoError(t, err)
	assert.Equal(t, "1.5", v)

	resp3 := newGoRedisClient(t, srv.Addr(), 3, "")
	v, err = resp3.Do(ctx, "score").Result()
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}

func TestGoRedisScripts(t *testing.T) {
	for _, proto := range []int{2, 3} {
		srv := startTestServer(t)
		client := newGoRedisClient(t, srv.Addr(), proto, "")
		ctx := context.Background()

		res, err := client.Eval(ctx, "return redis.call('SET', KEYS[1], ARGV[1])", []string{"sk"}, "sv").Result()
		require.NoError(t, err)
		assert.Equal(t, "OK", res)

		// Script.Run falls back to EVAL on NOSCRIPT
		script := redis.NewScript("return redis.call('GET', KEYS[1])")
		res, err = script.Run(ctx, client, []string{"sk"}).Result()
		require.NoError(t, err)
		assert.Equal(t, "sv", res)

		exists, err := client.ScriptExists(ctx, script.Hash()).Result()
		require.NoError(t, err)
		assert.Equal(t, []bool{true}, exists)

		n, err := client.Eval(ctx, "return {1, 2, 3}", nil).Int64Slice()
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, n)
	}
}

func TestGoRedisAuthentication(t *testing.T) {
	srv := startTestServer(t, func(s *Server) { s.SetPassword("secret") })
	ctx := context.Background()

	for _, proto := range []int{2, 3} {
		client := newGoRedisClient(t, srv.Addr(), proto, "secret")
		require.NoError(t, client.Ping(ctx).Err())
	}

	bad := newGoRedisClient(t, srv.Addr(), 3, "wrong")
	assert.Error(t, bad.Ping(ctx).Err())
}
