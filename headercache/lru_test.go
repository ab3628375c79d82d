package headercache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupNotReadyBeforeAnyPut(t *testing.T) {
	a := NewLRU(10)
	defer a.Close()

	res, err := a.Lookup("snapshot-0", 0, 16_384)
	require.NoError(t, err)
	assert.Equal(t, NotReady, res.Status)
}

func TestLookupMissAfterIndexCreatedForOtherKey(t *testing.T) {
	a := NewLRU(10)
	defer a.Close()

	done := make(chan struct{})
	a.Put("other-file", 0, []byte("data"), CompletionFunc(func() { close(done) }))
	<-done

	res, err := a.Lookup("snapshot-0", 0, 16_384)
	require.NoError(t, err)
	assert.Equal(t, Miss, res.Status)
}

func TestLookupHitReturnsStoredPrefix(t *testing.T) {
	a := NewLRU(10)
	defer a.Close()

	blob := make([]byte, 16_384)
	for i := range blob {
		blob[i] = byte(i)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	a.Put("snapshot-0", 0, blob, CompletionFunc(wg.Done))
	wg.Wait()

	res, err := a.Lookup("snapshot-0", 0, 4_096)
	require.NoError(t, err)
	require.Equal(t, Hit, res.Status)
	assert.EqualValues(t, 0, res.From)
	assert.EqualValues(t, 16_384, res.To)
	assert.Equal(t, blob, res.Bytes)
}

func TestPutCompletionClosedExactlyOnce(t *testing.T) {
	a := NewLRU(10)
	defer a.Close()

	var closes int
	var mu sync.Mutex
	done := make(chan struct{})
	a.Put("f", 0, []byte("x"), CompletionFunc(func() {
		mu.Lock()
		closes++
		mu.Unlock()
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, closes)
}

func TestLookupEvictedEntryIsMissNotNotReady(t *testing.T) {
	a := NewLRU(1)
	defer a.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	a.Put("first", 0, []byte("a"), CompletionFunc(wg.Done))
	a.Put("second", 0, []byte("b"), CompletionFunc(wg.Done)) // evicts "first" from a 1-entry LRU
	wg.Wait()

	res, err := a.Lookup("first", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, Miss, res.Status)
}
