// Package snapdir is the minimal directory facade CachedInput is built
// from: it resolves a logical file name to its partition.FileInfo, reports
// whether background recovery has completed, and is the single place
// CachedInput instances get constructed from, so openCount is
// incremented exactly once per logical open.
package snapdir

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/0xfr3/blobcache/blobsource"
	"github.com/0xfr3/blobcache/cacheexec"
	"github.com/0xfr3/blobcache/cachedinput"
	"github.com/0xfr3/blobcache/headercache"
	"github.com/0xfr3/blobcache/partition"
	"github.com/0xfr3/blobcache/sharedcache"
	"github.com/0xfr3/blobcache/stats"
)

// ErrUnknownFile is returned by Open/Evict for a name never registered
// with AddFile.
var ErrUnknownFile = errors.New("snapdir: unknown file")

// Directory is the reference directory facade.
type Directory struct {
	blobSource  *blobsource.Source
	headerCache headercache.Adapter
	exec        *cacheexec.Pool
	stats       stats.Sink
	cfg         cachedinput.Config
	cacheFile   *sharedcache.File

	mu    sync.RWMutex
	files map[string]*partition.FileInfo

	recoveryComplete int32 // atomic bool
}

// NewDirectory builds an empty Directory over a fresh shared cache file.
func NewDirectory(blobSource *blobsource.Source, headerCache headercache.Adapter, exec *cacheexec.Pool, sink stats.Sink, cfg cachedinput.Config) *Directory {
	return &Directory{
		blobSource:  blobSource,
		headerCache: headerCache,
		exec:        exec,
		stats:       sink,
		cfg:         cfg,
		cacheFile:   sharedcache.NewFile(),
		files:       make(map[string]*partition.FileInfo),
	}
}

// AddFile registers fi as openable under its own name. Typically called
// once per file discovered during recovery.
func (d *Directory) AddFile(fi *partition.FileInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[fi.Name] = fi
}

// MarkRecoveryComplete flips RecoveryComplete to true. One-way; idempotent.
func (d *Directory) MarkRecoveryComplete() {
	atomic.StoreInt32(&d.recoveryComplete, 1)
}

// RecoveryComplete implements cachedinput.Directory.
func (d *Directory) RecoveryComplete() bool {
	return atomic.LoadInt32(&d.recoveryComplete) != 0
}

// Open resolves name and constructs a fresh, top-level CachedInput over
// it, incrementing the stats sink's open count exactly once. Slicing or
// cloning the returned Input never calls back into Open.
func (d *Directory) Open(name string) (*cachedinput.Input, error) {
	d.mu.RLock()
	fi, ok := d.files[name]
	d.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownFile, "%q", name)
	}
	handle := d.cacheFile.Handle(fi.Name, fi.Length)
	return cachedinput.New(d, fi, d.cacheFile, handle, d.blobSource, d.headerCache, d.exec, d.stats, d.cfg), nil
}

// Evict transitions name's shared cache region to evicted, if the file is
// known and has ever been opened.
func (d *Directory) Evict(name string) error {
	d.mu.RLock()
	_, ok := d.files[name]
	d.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrUnknownFile, "%q", name)
	}
	d.cacheFile.Evict(name)
	return nil
}

var _ cachedinput.Directory = (*Directory)(nil)
