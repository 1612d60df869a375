package compressor

import "fmt"

// Accumulate adds src into dst element-wise. Both views must agree on element
// count and dtype. Integration layers use this to fold an error-feedback
// residual into the next round's gradient before compressing it.
func Accumulate(dst, src TensorView) error {
	if dst.DType != src.DType {
		return fmt.Errorf("dst %s vs src %s: %w", dst.DType, src.DType, ErrDTypeMismatch)
	}
	if dst.Count != src.Count {
		return fmt.Errorf("dst %d vs src %d elements: %w", dst.Count, src.Count, ErrSizeMismatch)
	}
	return scaleAdd(dst.DType, 1, dst.Data, src.Data, dst.Count)
}

// scaleAdd computes dst[i] = alpha*dst[i] + src[i] over n elements.
func scaleAdd(d DType, alpha float64, dst, src []byte, n int) error {
	acc, err := d.accessor()
	if err != nil {
		return err
	}
	es := d.Size()
	for i := 0; i < n; i++ {
		off := i * es
		de := dst[off : off+es]
		acc.store(de, alpha*acc.load(de)+acc.load(src[off:off+es]))
	}
	return nil
}

// sub computes dst[i] = a[i] - b[i] over n elements.
func sub(d DType, dst, a, b []byte, n int) error {
	acc, err := d.accessor()
	if err != nil {
		return err
	}
	es := d.Size()
	for i := 0; i < n; i++ {
		off := i * es
		acc.store(dst[off:off+es], acc.load(a[off:off+es])-acc.load(b[off:off+es]))
	}
	return nil
}
