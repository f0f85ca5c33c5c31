package processor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store BindingStore) {
	t.Helper()
	ctx := context.Background()
	aor := "sip:alice@atlanta.com"
	now := time.Now()

	require.NoError(t, store.Put(ctx, aor, Binding{Contact: "sip:alice@10.0.0.1", Expires: now.Add(time.Minute), CallID: "c1", CSeq: 1}))
	require.NoError(t, store.Put(ctx, aor, Binding{Contact: "sip:alice@10.0.0.2", Expires: now.Add(time.Hour), CallID: "c2", CSeq: 1}))
	require.NoError(t, store.Put(ctx, aor, Binding{Contact: "sip:alice@10.0.0.3", Expires: now.Add(-time.Second)}))

	bindings, err := store.Bindings(ctx, aor)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, "sip:alice@10.0.0.2", bindings[0].Contact)
	assert.Equal(t, "c2", bindings[0].CallID)
	assert.Equal(t, "sip:alice@10.0.0.1", bindings[1].Contact)

	require.NoError(t, store.Remove(ctx, aor, "sip:alice@10.0.0.2"))
	bindings, err = store.Bindings(ctx, aor)
	require.NoError(t, err)
	require.Len(t, bindings, 1)

	require.NoError(t, store.RemoveAll(ctx, aor))
	bindings, err = store.Bindings(ctx, aor)
	require.NoError(t, err)
	assert.Empty(t, bindings)

	bindings, err = store.Bindings(ctx, "sip:nobody@atlanta.com")
	require.NoError(t, err)
	assert.Empty(t, bindings)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

// Set SIPCORE_TEST_REDIS=host:port to run against a real server.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SIPCORE_TEST_REDIS")
	if addr == "" {
		t.Skip("SIPCORE_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	testStore(t, NewRedisStore(client, "sipcore:test:"+time.Now().Format("150405.000")+":"))
}

func TestBindingExpired(t *testing.T) {
	now := time.Now()
	assert.True(t, Binding{Expires: now}.Expired(now))
	assert.False(t, Binding{Expires: now.Add(time.Second)}.Expired(now))
}
