package headercache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	data []byte
	from int64
}

// LRU is a bounded Adapter backed by github.com/hashicorp/golang-lru/v2.
// Completions run inline on a single background goroutine so
// fill-duration accounting stays deterministic in tests.
type LRU struct {
	cache *lru.Cache[string, entry]

	indexCreated int32 // atomic bool; 0 until the first successful Put

	mu     sync.Mutex // serializes Put against Lookup for a given name
	pendCh chan func()
	once   sync.Once
}

// NewLRU builds an LRU-backed Adapter holding up to maxEntries blobs.
func NewLRU(maxEntries int) *LRU {
	c, err := lru.New[string, entry](maxEntries)
	if err != nil {
		// Only returns an error for maxEntries <= 0; fall back to 1.
		c, _ = lru.New[string, entry](1)
	}
	a := &LRU{cache: c, pendCh: make(chan func(), 64)}
	go a.drainCompletions()
	return a
}

func (a *LRU) drainCompletions() {
	for fn := range a.pendCh {
		fn()
	}
}

func (a *LRU) Lookup(name string, from, length int64) (Result, error) {
	a.mu.Lock()
	e, ok := a.cache.Get(name)
	created := atomic.LoadInt32(&a.indexCreated) != 0
	a.mu.Unlock()

	if !ok {
		if !created {
			return Result{Status: NotReady}, nil
		}
		return Result{Status: Miss}, nil
	}
	to := e.from + int64(len(e.data))
	if from < e.from || from+length > to {
		// Lookup only ever asks for a prefix the adapter is expected to
		// cover; a mismatched range is treated as a miss rather than a
		// partial hit.
		return Result{Status: Miss}, nil
	}
	return Result{Status: Hit, Bytes: e.data, From: e.from, To: to}, nil
}

func (a *LRU) Put(name string, from int64, data []byte, completion Completion) {
	cp := make([]byte, len(data))
	copy(cp, data)

	a.mu.Lock()
	a.cache.Add(name, entry{data: cp, from: from})
	atomic.StoreInt32(&a.indexCreated, 1)
	a.mu.Unlock()

	select {
	case a.pendCh <- completion.Close:
	default:
		// Queue full: run inline rather than drop the completion, since
		// callers rely on it to close out fill-duration stats exactly
		// once.
		completion.Close()
	}
}

// Close stops the background completion drain. Safe to call once.
func (a *LRU) Close() {
	a.once.Do(func() { close(a.pendCh) })
}

var _ Adapter = (*LRU)(nil)
