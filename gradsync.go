package gradsync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/gradsync/blobstore"
	"github.com/hupe1980/gradsync/checkpoint"
	"github.com/hupe1980/gradsync/compressor"
	"github.com/hupe1980/gradsync/internal/conv"
	"github.com/hupe1980/gradsync/manifest"
	"github.com/hupe1980/gradsync/payload"
)

var (
	// ErrUnknownStream is returned when a tensor key was never registered.
	ErrUnknownStream = errors.New("gradsync: unknown tensor stream")

	// ErrAlreadyRegistered is returned when a tensor key is registered twice.
	ErrAlreadyRegistered = errors.New("gradsync: stream already registered")
)

// Engine drives one worker's gradient compression. It owns one Compressor
// instance and one error-feedback buffer per registered tensor stream and
// fans round work out across streams; within a stream everything stays
// single-threaded, which is what the compressor types require.
type Engine struct {
	mu      sync.RWMutex
	streams map[string]*stream
	opts    options
}

// stream is the per-tensor state. Its mutex serializes the one-goroutine-at-a-
// time contract across Round, Reconstruct, Stats and Checkpoint.
type stream struct {
	mu     sync.Mutex
	params manifest.Params
	comp   compressor.Compressor
	mom    *compressor.Momentum // non-nil iff params.Momentum != 0
	rk     *compressor.RandomK
	corr   []byte // working buffer: gradient with residual folded in
	errBuf []byte // error-feedback residual, survives across rounds
	cov    *roaring.Bitmap
	rounds uint64
}

// New creates an engine.
func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		streams: make(map[string]*stream),
		opts:    o,
	}
}

// Register wires up one tensor stream from its parameter record. The record's
// key must be unique within the engine.
func (e *Engine) Register(p manifest.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}

	rk, err := compressor.NewRandomK(p.Size, p.K, p.Seed, p.Deterministic)
	if err != nil {
		return fmt.Errorf("gradsync: register %q: %w", p.Key, err)
	}
	s := &stream{
		params: p,
		comp:   rk,
		rk:     rk,
		corr:   make([]byte, p.Size*p.DType.Size()),
		errBuf: make([]byte, p.Size*p.DType.Size()),
	}
	if p.Momentum != 0 {
		mom, err := compressor.NewVanilla(rk, p.Momentum)
		if err != nil {
			return fmt.Errorf("gradsync: register %q: %w", p.Key, err)
		}
		s.mom = mom
		s.comp = mom
	}
	if e.opts.coverage {
		s.cov = roaring.New()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.streams[p.Key]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, p.Key)
	}
	e.streams[p.Key] = s

	e.opts.logger.Info("stream registered",
		"key", p.Key,
		"scheme", p.Scheme,
		"dtype", p.DType.String(),
		"size", p.Size,
		"k", p.K,
		"momentum", p.Momentum,
	)
	return nil
}

// RegisterFromManifest pulls every committed record from the store and
// registers the ones this engine does not have yet.
func (e *Engine) RegisterFromManifest(ctx context.Context, ms manifest.Store) error {
	records, err := ms.List(ctx)
	if err != nil {
		return fmt.Errorf("gradsync: %w", err)
	}
	for _, p := range records {
		if err := e.Register(p); err != nil && !errors.Is(err, ErrAlreadyRegistered) {
			return err
		}
	}
	return nil
}

// PublishManifest commits every registered stream's parameters to the store,
// so other workers can adopt them. Conflicting prior commits surface as
// manifest.ErrConcurrentModification.
func (e *Engine) PublishManifest(ctx context.Context, ms manifest.Store) error {
	e.mu.RLock()
	records := make([]manifest.Params, 0, len(e.streams))
	for _, s := range e.streams {
		records = append(records, s.params)
	}
	e.mu.RUnlock()

	for _, p := range records {
		if err := ms.Put(ctx, p); err != nil {
			return fmt.Errorf("gradsync: %w", err)
		}
	}
	return nil
}

func (e *Engine) stream(key string) (*stream, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.streams[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, key)
	}
	return s, nil
}

// Round compresses one synchronization round's gradients and returns framed
// payloads ready for the transport layer, keyed like the input. Per stream it
// folds the previous round's residual into the gradient, compresses, and
// refreshes the residual via the fast error update. The caller's gradient
// buffers are only read.
func (e *Engine) Round(ctx context.Context, grads map[string]compressor.TensorView) (map[string][]byte, error) {
	targets := make(map[string]*stream, len(grads))
	for key := range grads {
		s, err := e.stream(key)
		if err != nil {
			return nil, err
		}
		targets[key] = s
	}

	out := make(map[string][]byte, len(grads))
	var outMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.workers)
	for key, s := range targets {
		key, s := key, s
		grad := grads[key]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			frame, err := e.roundOne(s, grad)
			if err != nil {
				return fmt.Errorf("gradsync: stream %q: %w", key, err)
			}
			outMu.Lock()
			out[key] = frame
			outMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.opts.logger.Debug("round complete", "streams", len(out))
	return out, nil
}

func (e *Engine) roundOne(s *stream, grad compressor.TensorView) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.params
	if grad.DType != p.DType {
		return nil, fmt.Errorf("got %s, stream registered as %s: %w",
			grad.DType, p.DType, compressor.ErrDTypeMismatch)
	}
	if grad.Count != p.Size {
		return nil, fmt.Errorf("got %d elements, stream registered with %d: %w",
			grad.Count, p.Size, compressor.ErrSizeMismatch)
	}

	es := p.DType.Size()
	corr := compressor.TensorView{Data: s.corr, Count: p.Size, DType: p.DType}
	res := compressor.TensorView{Data: s.errBuf, Count: p.Size, DType: p.DType}

	copy(s.corr, grad.Data[:p.Size*es])
	if err := compressor.Accumulate(corr, res); err != nil {
		return nil, err
	}

	packed, err := s.comp.Compress(corr)
	if err != nil {
		return nil, err
	}
	if err := s.comp.FastUpdateError(res, corr, packed); err != nil {
		return nil, err
	}

	if s.cov != nil {
		idxs, err := s.rk.Indices(packed)
		if err != nil {
			return nil, err
		}
		for _, idx := range idxs {
			u, err := conv.IntToUint32(idx)
			if err != nil {
				return nil, err
			}
			s.cov.Add(u)
		}
	}
	s.rounds++

	return payload.Encode(packed.Data, e.opts.compression)
}

// Reconstruct inverts a framed payload received for the given stream into a
// full-size approximate gradient. The returned view owns freshly allocated
// storage.
func (e *Engine) Reconstruct(key string, frame []byte) (compressor.TensorView, error) {
	s, err := e.stream(key)
	if err != nil {
		return compressor.TensorView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := payload.Decode(frame)
	if err != nil {
		return compressor.TensorView{}, fmt.Errorf("gradsync: stream %q: %w", key, err)
	}
	view, err := s.comp.Decompress(compressor.Packed{
		Data:    raw,
		Records: s.params.K,
		DType:   s.params.DType,
	})
	if err != nil {
		return compressor.TensorView{}, fmt.Errorf("gradsync: stream %q: %w", key, err)
	}

	// Detach from compressor scratch before the lock is released.
	out := make([]byte, len(view.Data))
	copy(out, view.Data)
	return compressor.TensorView{Data: out, Count: view.Count, DType: view.DType}, nil
}

// Residual returns a copy of the stream's current error-feedback buffer.
func (e *Engine) Residual(key string) (compressor.TensorView, error) {
	s, err := e.stream(key)
	if err != nil {
		return compressor.TensorView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, len(s.errBuf))
	copy(out, s.errBuf)
	return compressor.TensorView{Data: out, Count: s.params.Size, DType: s.params.DType}, nil
}

// StreamStats summarizes one stream's activity since registration.
type StreamStats struct {
	Rounds uint64
	Size   int
	K      int
	// CoveredIndices is the number of distinct indices transmitted at least
	// once. Zero unless WithCoverageTracking was set.
	CoveredIndices uint64
}

// Stats reports per-stream counters.
func (e *Engine) Stats(key string) (StreamStats, error) {
	s, err := e.stream(key)
	if err != nil {
		return StreamStats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := StreamStats{
		Rounds: s.rounds,
		Size:   s.params.Size,
		K:      s.params.K,
	}
	if s.cov != nil {
		st.CoveredIndices = s.cov.GetCardinality()
	}
	return st, nil
}

// Checkpoint persists every stream's error-feedback residual, and momentum
// buffer where one exists, under prefix in the store. Uploads run concurrently
// under the engine worker limit and the optional checkpoint rate limit.
func (e *Engine) Checkpoint(ctx context.Context, store blobstore.Store, prefix string) error {
	e.mu.RLock()
	streams := make(map[string]*stream, len(e.streams))
	for key, s := range e.streams {
		streams[key] = s
	}
	e.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.workers)
	for key, s := range streams {
		key, s := key, s
		g.Go(func() error {
			if err := e.checkpointOne(gctx, store, prefix, key, s); err != nil {
				return fmt.Errorf("gradsync: checkpoint %q: %w", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.opts.logger.Info("checkpoint written", "streams", len(streams), "prefix", prefix)
	return nil
}

func (e *Engine) checkpointOne(ctx context.Context, store blobstore.Store, prefix, key string, s *stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.params
	res := compressor.TensorView{Data: s.errBuf, Count: p.Size, DType: p.DType}
	if err := e.throttle(ctx, len(res.Data)); err != nil {
		return err
	}
	if err := checkpoint.Save(ctx, store, path.Join(prefix, key+".res"), res); err != nil {
		return err
	}

	if s.mom != nil {
		mv, err := s.mom.State(p.DType)
		if err != nil {
			return err
		}
		if err := e.throttle(ctx, len(mv.Data)); err != nil {
			return err
		}
		if err := checkpoint.Save(ctx, store, path.Join(prefix, key+".mom"), mv); err != nil {
			return err
		}
	}
	return nil
}

// throttle blocks until the rate limiter admits n bytes. Snapshots can exceed
// the limiter burst, so large writes are admitted in burst-size slices.
func (e *Engine) throttle(ctx context.Context, n int) error {
	lim := e.opts.uploadLimiter
	if lim == nil {
		return nil
	}
	burst := lim.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Restore loads previously checkpointed buffers for every registered stream.
// Streams with no snapshot under prefix are left untouched, so a fresh job and
// a resumed job go through the same code path.
func (e *Engine) Restore(ctx context.Context, store blobstore.Store, prefix string) error {
	e.mu.RLock()
	streams := make(map[string]*stream, len(e.streams))
	for key, s := range e.streams {
		streams[key] = s
	}
	e.mu.RUnlock()

	for key, s := range streams {
		if err := restoreOne(ctx, store, prefix, key, s); err != nil {
			return fmt.Errorf("gradsync: restore %q: %w", key, err)
		}
	}

	e.opts.logger.Info("checkpoint restored", "streams", len(streams), "prefix", prefix)
	return nil
}

func restoreOne(ctx context.Context, store blobstore.Store, prefix, key string, s *stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.params
	res, err := checkpoint.Load(ctx, store, path.Join(prefix, key+".res"))
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
	case err != nil:
		return err
	default:
		if res.Count != p.Size || res.DType != p.DType {
			return fmt.Errorf("residual snapshot is %d x %s, stream is %d x %s: %w",
				res.Count, res.DType, p.Size, p.DType, compressor.ErrSizeMismatch)
		}
		copy(s.errBuf, res.Data)
	}

	if s.mom == nil {
		return nil
	}
	mv, err := checkpoint.Load(ctx, store, path.Join(prefix, key+".mom"))
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		return nil
	case err != nil:
		return err
	default:
		if mv.Count != p.Size || mv.DType != p.DType {
			return fmt.Errorf("momentum snapshot is %d x %s, stream is %d x %s: %w",
				mv.Count, mv.DType, p.Size, p.DType, compressor.ErrSizeMismatch)
		}
		return s.mom.SetState(mv)
	}
}
