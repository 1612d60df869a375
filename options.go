package gradsync

import (
	"runtime"

	"golang.org/x/time/rate"

	"github.com/hupe1980/gradsync/payload"
)

type options struct {
	logger        *Logger
	compression   payload.Compression
	workers       int
	coverage      bool
	uploadLimiter *rate.Limiter
}

// Option configures engine construction.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:      NoopLogger(),
		compression: payload.None,
		workers:     runtime.GOMAXPROCS(0),
	}
}

// WithLogger sets the engine logger. The compressor hot path never logs;
// this covers registration, checkpointing and round summaries.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPayloadCompression wraps outgoing packed gradients in byte-level block
// compression. Sparsified payloads are small and high-entropy, so the default
// is payload.None; LZ4 or ZSTD can still pay off for large k.
func WithPayloadCompression(c payload.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithWorkers bounds how many tensor streams are compressed concurrently in
// one round. Defaults to GOMAXPROCS. Each stream is still driven by at most
// one goroutine at a time.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithCoverageTracking records, per stream, the set of indices transmitted at
// least once since registration. Useful for diagnosing sparsifier coverage
// drift; costs one bitmap per stream.
func WithCoverageTracking() Option {
	return func(o *options) {
		o.coverage = true
	}
}

// WithCheckpointRateLimit throttles checkpoint uploads to roughly
// bytesPerSec, keeping snapshot traffic from starving gradient exchange.
func WithCheckpointRateLimit(bytesPerSec int) Option {
	return func(o *options) {
		if bytesPerSec > 0 {
			o.uploadLimiter = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
		}
	}
}
