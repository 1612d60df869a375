package compressor

import (
	"errors"
	"fmt"
)

// UpdateFunc is the momentum-update hook. It mutates the persistent momentum
// buffer in place according to the variant's rule and returns the view to
// forward into the wrapped compressor (usually the momentum buffer itself).
type UpdateFunc func(grad, mom TensorView) (TensorView, error)

// Momentum decorates a Compressor with an exponentially-weighted accumulation
// of past gradients applied before sparsification. It takes exclusive
// ownership of the wrapped instance and of a momentum buffer that is
// zero-initialized at construction, mutated in place every round and never
// reset for the lifetime of the instance.
//
// Only the compress path is intercepted; Decompress and the error updates are
// forwarded unchanged. New momentum variants supply a different UpdateFunc,
// the wrapping logic stays the same.
//
// The buffer is reinterpreted under the dtype of each incoming gradient, so a
// single Momentum instance must always be fed the same dtype — one instance
// per tensor stream, like every Compressor.
type Momentum struct {
	inner  Compressor
	update UpdateFunc
	buf    []byte
}

var _ Compressor = (*Momentum)(nil)

// NewMomentum wraps inner with the given momentum-update rule.
func NewMomentum(inner Compressor, update UpdateFunc) (*Momentum, error) {
	if inner == nil {
		return nil, errors.New("momentum: nil wrapped compressor")
	}
	if update == nil {
		return nil, errors.New("momentum: nil update rule")
	}
	return &Momentum{
		inner:  inner,
		update: update,
		buf:    make([]byte, inner.Size()*maxElemSize),
	}, nil
}

// NewVanilla wraps inner with heavy-ball momentum: mom = mu*mom + grad, and
// the updated momentum buffer is what gets compressed each round.
func NewVanilla(inner Compressor, mu float64) (*Momentum, error) {
	return NewMomentum(inner, Vanilla(mu))
}

// Vanilla returns the heavy-ball update rule with mixing parameter mu.
func Vanilla(mu float64) UpdateFunc {
	return func(grad, mom TensorView) (TensorView, error) {
		if err := scaleAdd(grad.DType, mu, mom.Data, grad.Data, grad.Count); err != nil {
			return TensorView{}, err
		}
		return mom, nil
	}
}

// Compress runs the momentum hook against the persistent buffer, then forwards
// whatever the hook designates into the wrapped compressor.
func (m *Momentum) Compress(grad TensorView) (Packed, error) {
	if err := grad.check(m.inner.Size()); err != nil {
		return Packed{}, fmt.Errorf("momentum compress: %w", err)
	}
	mom := TensorView{
		Data:  m.buf[:grad.Count*grad.DType.Size()],
		Count: grad.Count,
		DType: grad.DType,
	}
	fwd, err := m.update(grad, mom)
	if err != nil {
		return Packed{}, fmt.Errorf("momentum update: %w", err)
	}
	return m.inner.Compress(fwd)
}

func (m *Momentum) Decompress(p Packed) (TensorView, error) {
	return m.inner.Decompress(p)
}

func (m *Momentum) UpdateError(errBuf, corrected TensorView, p Packed) error {
	return m.inner.UpdateError(errBuf, corrected, p)
}

func (m *Momentum) FastUpdateError(errBuf, corrected TensorView, p Packed) error {
	return m.inner.FastUpdateError(errBuf, corrected, p)
}

func (m *Momentum) Size() int {
	return m.inner.Size()
}

// State exposes the momentum buffer as a view of Size() elements of dtype d.
// Checkpointing uses this to persist accumulation across trainer restarts. The
// view aliases live state; it is only valid while no other call runs.
func (m *Momentum) State(d DType) (TensorView, error) {
	es := d.Size()
	if es == 0 {
		return TensorView{}, fmt.Errorf("momentum state: %s: %w", d, ErrUnsupportedDType)
	}
	return TensorView{
		Data:  m.buf[:m.inner.Size()*es],
		Count: m.inner.Size(),
		DType: d,
	}, nil
}

// SetState overwrites the momentum buffer from a restored snapshot.
func (m *Momentum) SetState(src TensorView) error {
	if err := src.check(m.inner.Size()); err != nil {
		return fmt.Errorf("momentum restore: %w", err)
	}
	copy(m.buf, src.Data[:src.Count*src.DType.Size()])
	return nil
}
