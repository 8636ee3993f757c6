package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type widget struct {
	ID   uint
	Name string
}

func memoryDSN(t *testing.T) string {
	return "file:" + t.Name() + "?mode=memory&cache=shared"
}

func TestAcquireOpensOnceAndMigrates(t *testing.T) {
	var opens int32
	h := NewHandle(func(ctx context.Context) (*gorm.DB, error) {
		atomic.AddInt32(&opens, 1)
		return gorm.Open(sqlite.Open(memoryDSN(t)), &gorm.Config{})
	}, &widget{})
	t.Cleanup(func() { _ = h.Close() })

	var wg sync.WaitGroup
	dbs := make([]*gorm.DB, 8)
	for i := range dbs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := h.Acquire(context.Background())
			if assert.NoError(t, err) {
				dbs[i] = db
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&opens), "只打开一次")
	require.NotNil(t, dbs[0])
	for i := 1; i < len(dbs); i++ {
		assert.Same(t, dbs[0], dbs[i], "Acquire 应返回同一个句柄")
	}
	assert.True(t, dbs[0].Migrator().HasTable(&widget{}), "widget 表未迁移")
}

func TestAcquireDoesNotCacheFailure(t *testing.T) {
	attempts := 0
	h := NewHandle(func(ctx context.Context) (*gorm.DB, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return gorm.Open(sqlite.Open(memoryDSN(t)), &gorm.Config{})
	})
	t.Cleanup(func() { _ = h.Close() })

	_, err := h.Acquire(context.Background())
	assert.Error(t, err)
	_, err = h.Acquire(context.Background())
	assert.NoError(t, err, "失败不应被缓存")
	assert.Equal(t, 2, attempts)
}
