package cachedinput

// Constants observed at the read/write boundary.
const (
	// CopyBufferSize bounds every chunked copy between the blob store,
	// the shared cache channel, and the caller's buffer.
	CopyBufferSize = 8192
	// FooterLength is the Lucene footer size the footer shortcut
	// synthesizes without a cache/blob round trip.
	FooterLength = 16
)

// Config holds the per-directory tunables CachedInput reads at
// construction time. Built via functional options, generalized here
// from a per-call pattern to construction-time configuration.
type Config struct {
	// DefaultRangeSize is the cache-region alignment granularity once
	// the owning directory reports recovery complete.
	DefaultRangeSize int64
	// RecoveryRangeSize is the (smaller) granularity used while
	// recovery is in progress, to avoid over-fetch.
	RecoveryRangeSize int64
	// HeaderCacheBlobSize bounds both header-cache eligibility tests.
	HeaderCacheBlobSize int64
	// PrefetchConcurrency bounds how many cacheexec slots Prefetch may
	// use at once.
	PrefetchConcurrency int64
}

// Option configures a Config.
type Option func(*Config)

// WithDefaultRangeSize overrides the post-recovery alignment size.
func WithDefaultRangeSize(n int64) Option {
	return func(c *Config) { c.DefaultRangeSize = n }
}

// WithRecoveryRangeSize overrides the during-recovery alignment size.
func WithRecoveryRangeSize(n int64) Option {
	return func(c *Config) { c.RecoveryRangeSize = n }
}

// WithHeaderCacheBlobSize overrides the header-cache eligibility bound.
func WithHeaderCacheBlobSize(n int64) Option {
	return func(c *Config) { c.HeaderCacheBlobSize = n }
}

// WithPrefetchConcurrency overrides Prefetch's cacheexec concurrency.
func WithPrefetchConcurrency(n int64) Option {
	return func(c *Config) { c.PrefetchConcurrency = n }
}

// NewConfig builds a Config with sane defaults, applying opts in order.
func NewConfig(opts ...Option) Config {
	c := Config{
		DefaultRangeSize:    32_768,
		RecoveryRangeSize:   8_192,
		HeaderCacheBlobSize: 16_384,
		PrefetchConcurrency: 4,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}
