package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapGetSetDelete(t *testing.T) {
	m := NewMap[string, int]()

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", 1)
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	m.Delete("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
}

func TestMapLoadOrStore(t *testing.T) {
	m := NewMap[string, string]()

	v, loaded := m.LoadOrStore("k", "first")
	assert.False(t, loaded)
	assert.Equal(t, "first", v)

	v, loaded = m.LoadOrStore("k", "second")
	assert.True(t, loaded)
	assert.Equal(t, "first", v)
}

func TestMapClear(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	require.Equal(t, 2, m.Len())

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Values())
}

func TestMapConcurrentAccess(t *testing.T) {
	m := NewMap[int, int]()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Set(i, i)
			m.Get(i)
			if i%10 == 0 {
				m.Clear()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, m.Len(), 50)
}
