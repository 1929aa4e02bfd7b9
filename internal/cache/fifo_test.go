package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFIFO_EvictsOldestInsertion(t *testing.T) {
	c := NewFIFO[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, c.Len())
}

func TestFIFO_OverwriteKeepsPosition(t *testing.T) {
	c := NewFIFO[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10)
	c.Put("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestFIFO_Concurrent(t *testing.T) {
	c := NewFIFO[int, int](10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put(i, i)
			c.Get(i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, c.Len())
}
