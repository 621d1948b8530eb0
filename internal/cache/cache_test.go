package cache

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/WillyEverGreen/CRCE-calc/lib/configutil/dbconfig"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testStore runs the behaviour every Store must share, advance moves the store's notion of time.
func testStore(t *testing.T, store Store, advance func(time.Duration)) {
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "crce:MU01:01-01-2005")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "crce:MU01:01-01-2005", []byte(`{"sgpa":9.1}`), time.Hour))
	require.NoError(t, store.Set(ctx, "crce:MU02:02-02-2005", []byte(`{"sgpa":8}`), 2*time.Hour))
	require.NoError(t, store.Set(ctx, "other:MU03", []byte(`x`), 2*time.Hour))

	value, ok, err := store.Get(ctx, "crce:MU01:01-01-2005")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"sgpa":9.1}`, string(value))

	// overwrite
	require.NoError(t, store.Set(ctx, "crce:MU01:01-01-2005", []byte(`{"sgpa":9.2}`), time.Hour))
	value, _, err = store.Get(ctx, "crce:MU01:01-01-2005")
	require.NoError(t, err)
	require.Equal(t, `{"sgpa":9.2}`, string(value))

	advance(90 * time.Minute)

	_, ok, err = store.Get(ctx, "crce:MU01:01-01-2005")
	require.NoError(t, err)
	require.False(t, ok, "entry should have expired")
	_, ok, err = store.Get(ctx, "crce:MU02:02-02-2005")
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := store.Clear(ctx, "crce:")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, ok, err = store.Get(ctx, "crce:MU02:02-02-2005")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = store.Get(ctx, "other:MU03")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryStore(t *testing.T) {
	timeAPI, mock, err := chrono.NewMockImpl()
	require.NoError(t, err)
	testStore(t, NewMemoryStore(64, 24*time.Hour, timeAPI), mock.Add)
}

func TestMemoryStoreEviction(t *testing.T) {
	timeAPI, _, err := chrono.NewMockImpl()
	require.NoError(t, err)
	store := NewMemoryStore(2, time.Hour, timeAPI)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Hour))
	_, _, _ = store.Get(ctx, "a")
	require.NoError(t, store.Set(ctx, "c", []byte("3"), time.Hour))

	_, ok, _ := store.Get(ctx, "b")
	require.False(t, ok, "least recently used entry should be evicted")
	_, ok, _ = store.Get(ctx, "a")
	require.True(t, ok)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	testStore(t, NewRedisStore(client), mr.FastForward)
}

func TestRedisStoreClearManyKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStore(client)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("crce:MU%04d:01-01-2005", i), "{}"))
	}
	removed, err := store.Clear(ctx, "crce:")
	require.NoError(t, err)
	require.Equal(t, 250, removed)
	require.Empty(t, mr.Keys())
}

func TestSQLStore(t *testing.T) {
	db, err := dbconfig.OpenSqlite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	timeAPI, mock, err := chrono.NewMockImpl()
	require.NoError(t, err)
	store, err := NewSQLStore(context.Background(), db, timeAPI)
	require.NoError(t, err)

	testStore(t, store, mock.Add)

	// the schema is created idempotently
	_, err = NewSQLStore(context.Background(), db, timeAPI)
	require.NoError(t, err)
}

func TestRedisStoreContainer(t *testing.T) {
	if os.Getenv("CRCE_INTEGRATION") == "" {
		t.Skip("set CRCE_INTEGRATION=1 to run against a real redis")
	}
	ctx := context.Background()

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, container.Terminate(ctx))
	}()

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	defer client.Close()

	testStore(t, NewRedisStore(client), func(d time.Duration) {
		// real redis expires in real time, shorten the remaining ttls instead of sleeping
		keys, err := client.Keys(ctx, "*").Result()
		require.NoError(t, err)
		for _, key := range keys {
			ttl, err := client.PTTL(ctx, key).Result()
			require.NoError(t, err)
			if ttl <= d {
				require.NoError(t, client.Del(ctx, key).Err())
				continue
			}
			require.NoError(t, client.PExpire(ctx, key, ttl-d).Err())
		}
	})
}
