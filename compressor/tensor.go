package compressor

import "fmt"

// TensorView is a borrowed view over a caller-owned gradient buffer:
// a data reference, an element count and an element-type tag. The view never
// owns the backing storage and must not outlive the call that produced it,
// except where a method documents otherwise.
type TensorView struct {
	Data  []byte
	Count int
	DType DType
}

// NewTensorView wraps raw little-endian bytes as a tensor view.
// len(data) must be an exact multiple of the element size.
func NewTensorView(data []byte, dtype DType) (TensorView, error) {
	es := dtype.Size()
	if es == 0 {
		return TensorView{}, fmt.Errorf("%s: %w", dtype, ErrUnsupportedDType)
	}
	if len(data)%es != 0 {
		return TensorView{}, fmt.Errorf("buffer of %d bytes is not a whole number of %s elements: %w",
			len(data), dtype, ErrSizeMismatch)
	}
	return TensorView{Data: data, Count: len(data) / es, DType: dtype}, nil
}

// check validates the view against an expected element count.
func (v TensorView) check(size int) error {
	es := v.DType.Size()
	if es == 0 {
		return fmt.Errorf("%s: %w", v.DType, ErrUnsupportedDType)
	}
	if v.Count != size {
		return fmt.Errorf("got %d elements, compressor configured for %d: %w", v.Count, size, ErrSizeMismatch)
	}
	if len(v.Data) < v.Count*es {
		return fmt.Errorf("view data holds %d bytes, need %d: %w", len(v.Data), v.Count*es, ErrSizeMismatch)
	}
	return nil
}

// Packed is the in-process handle for a compressed gradient. Data holds the
// header-less wire bytes; Records and DType are the out-of-band facts a
// receiver must already know to interpret them. A Packed returned by Compress
// aliases instance scratch memory and follows the same invalidated-on-next-call
// contract as TensorView.
type Packed struct {
	Data    []byte
	Records int
	DType   DType
}
