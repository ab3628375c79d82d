package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is a Sink that records every event in an inner Atomic and
// also exports the open count, the byte counters, the header-cache fill
// count and direct-read latency as Prometheus metrics; BytesRead and
// Seeks are recorded only in the inner Atomic. A deployment wires this in instead of Atomic when
// it wants these counters scraped; cache admission/eviction policy
// stays out of scope, but observability does not, so this sits
// alongside Atomic rather than replacing it.
type Prometheus struct {
	inner *Atomic

	openCount           prometheus.Counter
	cachedBytesRead     prometheus.Counter
	cachedBytesWritten  prometheus.Counter
	indexCacheBytesRead prometheus.Counter
	indexCacheFills     prometheus.Counter
	blobBytesRequested  prometheus.Counter
	directBytesRead     prometheus.Counter
	readLatency         prometheus.Histogram
}

// NewPrometheus registers a Prometheus-backed Sink on reg. namespace
// prefixes every metric name, e.g. "blobcache".
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	p := &Prometheus{
		inner: &Atomic{},
		openCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "open_count", Help: "CachedInput instances constructed.",
		}),
		cachedBytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cached_bytes_read_total", Help: "Bytes served from the resident disk cache.",
		}),
		cachedBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cached_bytes_written_total", Help: "Bytes written into the shared cache region.",
		}),
		indexCacheBytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "index_cache_bytes_read_total", Help: "Bytes served from the header cache.",
		}),
		indexCacheFills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "index_cache_fills_total", Help: "Completed header cache backfills.",
		}),
		blobBytesRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blob_store_bytes_requested_total", Help: "Bytes requested from the remote blob store.",
		}),
		directBytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "direct_bytes_read_total", Help: "Bytes read directly from the blob store on eviction fallback.",
		}),
		readLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "direct_read_latency_seconds", Help: "Latency of direct blob-store reads.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(p.openCount, p.cachedBytesRead, p.cachedBytesWritten,
		p.indexCacheBytesRead, p.indexCacheFills, p.blobBytesRequested,
		p.directBytesRead, p.readLatency)
	return p
}

var _ Sink = (*Prometheus)(nil)

func (p *Prometheus) IncrementOpenCount() {
	p.inner.IncrementOpenCount()
	p.openCount.Inc()
}

func (p *Prometheus) CachedBytesRead(n int64) {
	p.inner.CachedBytesRead(n)
	p.cachedBytesRead.Add(float64(n))
}

func (p *Prometheus) CachedBytesWritten(n int64, nanos int64) {
	p.inner.CachedBytesWritten(n, nanos)
	p.cachedBytesWritten.Add(float64(n))
}

func (p *Prometheus) IndexCacheBytesRead(n int64) {
	p.inner.IndexCacheBytesRead(n)
	p.indexCacheBytesRead.Add(float64(n))
}

type promFillToken struct {
	inner FillToken
	p     *Prometheus
}

func (t *promFillToken) Close() {
	t.inner.Close()
	t.p.indexCacheFills.Inc()
}

func (p *Prometheus) BeginIndexCacheFill() FillToken {
	return &promFillToken{inner: p.inner.BeginIndexCacheFill(), p: p}
}

func (p *Prometheus) BlobStoreBytesRequested(n int64) {
	p.inner.BlobStoreBytesRequested(n)
	p.blobBytesRequested.Add(float64(n))
}

func (p *Prometheus) DirectBytesRead(n int64, nanos int64) {
	p.inner.DirectBytesRead(n, nanos)
	p.directBytesRead.Add(float64(n))
	p.readLatency.Observe(time.Duration(nanos).Seconds())
}

func (p *Prometheus) BytesRead(lastPos, newPos, n int64) {
	p.inner.BytesRead(lastPos, newPos, n)
}

func (p *Prometheus) Seeks(lastSeekPos, newSeekPos int64) {
	p.inner.Seeks(lastSeekPos, newSeekPos)
}
