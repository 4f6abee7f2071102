package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	config := Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "test:",
		DefaultTTL: 1 * time.Minute,
	}

	manager, err := NewManager(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "chat:1", "state", 0))

	value, err := manager.Get(ctx, "chat:1")
	require.NoError(t, err)
	assert.Equal(t, "state", value)

	// 键带前缀，ttl 为 0 时取默认值
	assert.True(t, mr.Exists("test:chat:1"))
	assert.Equal(t, time.Minute, mr.TTL("test:chat:1"))
}

func TestManager_GetMiss(t *testing.T) {
	_, manager := setupTestRedis(t)

	value, err := manager.Get(context.Background(), "non-existent")
	assert.True(t, IsCacheMiss(err))
	assert.Empty(t, value)
}

func TestManager_Delete(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, manager.Set(ctx, "b", "2", time.Minute))

	deleted, err := manager.Delete(ctx, "a", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.False(t, mr.Exists("test:a"))
	assert.True(t, mr.Exists("test:b"))

	deleted, err = manager.Delete(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	_, err = manager.Get(ctx, "a")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_JSON(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	type state struct {
		ID       string   `json:"id"`
		Messages []string `json:"messages"`
	}
	in := state{ID: "c1", Messages: []string{"hi", "there"}}

	require.NoError(t, manager.SetJSON(ctx, "json", in, time.Minute))

	var out state
	require.NoError(t, manager.GetJSON(ctx, "json", &out))
	assert.Equal(t, in, out)

	assert.True(t, IsCacheMiss(manager.GetJSON(ctx, "missing", &out)))
	assert.Error(t, manager.SetJSON(ctx, "bad", make(chan int), time.Minute))

	require.NoError(t, manager.Set(ctx, "not-json", "not a json", time.Minute))
	assert.Error(t, manager.GetJSON(ctx, "not-json", &out))
}

func TestManager_TTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "ttl", "value", 100*time.Millisecond))
	_, err := manager.Get(ctx, "ttl")
	require.NoError(t, err)

	mr.FastForward(200 * time.Millisecond)
	_, err = manager.Get(ctx, "ttl")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, manager.Set(ctx, "explicit", "value", time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("test:explicit"))
}

func TestManager_Keys(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	for _, k := range []string{"chat:a", "chat:b", "other"} {
		require.NoError(t, manager.Set(ctx, k, "x", time.Minute))
	}
	require.NoError(t, mr.Set("foreign:chat:z", "x"))

	keys, err := manager.Keys(ctx, "chat:*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"chat:a", "chat:b"}, keys)
}

type counter struct {
	N     int      `json:"n"`
	Items []string `json:"items"`
}

func TestManager_UpdateJSON(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	appendItem := func(item string) func([]byte, bool) (any, error) {
		return func(raw []byte, found bool) (any, error) {
			var c counter
			if found {
				if err := json.Unmarshal(raw, &c); err != nil {
					return nil, err
				}
			}
			c.N++
			c.Items = append(c.Items, item)
			return c, nil
		}
	}

	require.NoError(t, manager.UpdateJSON(ctx, "chat:1", 0, appendItem("hi")))
	require.NoError(t, manager.UpdateJSON(ctx, "chat:1", 0, appendItem("there")))

	var got counter
	require.NoError(t, manager.GetJSON(ctx, "chat:1", &got))
	assert.Equal(t, counter{N: 2, Items: []string{"hi", "there"}}, got)
	assert.Equal(t, time.Minute, mr.TTL("test:chat:1"))

	boom := errors.New("rejected")
	err := manager.UpdateJSON(ctx, "chat:1", 0, func([]byte, bool) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, manager.GetJSON(ctx, "chat:1", &got))
	assert.Equal(t, 2, got.N)
}

func TestManager_UpdateJSON_Concurrent(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	const writers = 6
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, manager.UpdateJSON(ctx, "shared", time.Minute, func(raw []byte, found bool) (any, error) {
				var c counter
				if found {
					_ = json.Unmarshal(raw, &c)
				}
				c.N++
				return c, nil
			}))
		}()
	}
	wg.Wait()

	var got counter
	require.NoError(t, manager.GetJSON(ctx, "shared", &got))
	assert.Equal(t, writers, got.N)
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
	assert.ErrorIs(t, manager.UpdateJSON(ctx, "k", 0, nil), ErrClosed)
	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_ConnectFailed(t *testing.T) {
	manager, err := NewManager(Config{Addr: "localhost:9999"}, zap.NewNop())
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManager_ConcurrentOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-%d", id)
			assert.NoError(t, manager.Set(ctx, key, "value", time.Minute))
			value, err := manager.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, "value", value)
		}(i)
	}
	wg.Wait()
}
