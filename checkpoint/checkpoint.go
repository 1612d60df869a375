// Package checkpoint persists compressor state buffers (momentum accumulation,
// error-feedback residuals) so a restarted trainer resumes with the residuals
// it had, instead of silently dropping accumulated correction.
//
// Snapshot layout, little-endian, zstd-framed through the payload package:
//
//	[magic "GSNP"][version u8][dtype u8][reserved u16][count u64][elements...]
package checkpoint

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/gradsync/blobstore"
	"github.com/hupe1980/gradsync/compressor"
	"github.com/hupe1980/gradsync/internal/conv"
	"github.com/hupe1980/gradsync/payload"
)

var magic = [4]byte{'G', 'S', 'N', 'P'}

const (
	version    = 1
	headerSize = 16
)

// Save writes a snapshot of the view's contents under the given name.
func Save(ctx context.Context, store blobstore.Store, name string, v compressor.TensorView) error {
	es := v.DType.Size()
	if es == 0 {
		return fmt.Errorf("checkpoint save %s: %s: %w", name, v.DType, compressor.ErrUnsupportedDType)
	}
	if len(v.Data) < v.Count*es {
		return fmt.Errorf("checkpoint save %s: view data holds %d bytes, need %d: %w",
			name, len(v.Data), v.Count*es, compressor.ErrSizeMismatch)
	}

	raw := make([]byte, headerSize+v.Count*es)
	copy(raw, magic[:])
	raw[4] = version
	raw[5] = byte(v.DType)
	binary.LittleEndian.PutUint64(raw[8:], uint64(v.Count))
	copy(raw[headerSize:], v.Data[:v.Count*es])

	frame, err := payload.Encode(raw, payload.ZSTD)
	if err != nil {
		return fmt.Errorf("checkpoint save %s: %w", name, err)
	}
	if err := store.Put(ctx, name, frame); err != nil {
		return fmt.Errorf("checkpoint save %s: %w", name, err)
	}
	return nil
}

// Load reads a snapshot back. The returned view owns freshly allocated
// storage; unlike compressor scratch views it stays valid indefinitely.
func Load(ctx context.Context, store blobstore.Store, name string) (compressor.TensorView, error) {
	frame, err := store.Get(ctx, name)
	if err != nil {
		return compressor.TensorView{}, fmt.Errorf("checkpoint load %s: %w", name, err)
	}
	raw, err := payload.Decode(frame)
	if err != nil {
		return compressor.TensorView{}, fmt.Errorf("checkpoint load %s: %w", name, err)
	}

	if len(raw) < headerSize || [4]byte(raw[:4]) != magic {
		return compressor.TensorView{}, fmt.Errorf("checkpoint load %s: not a snapshot", name)
	}
	if raw[4] != version {
		return compressor.TensorView{}, fmt.Errorf("checkpoint load %s: unsupported snapshot version %d", name, raw[4])
	}
	dtype := compressor.DType(raw[5])
	es := dtype.Size()
	if es == 0 {
		return compressor.TensorView{}, fmt.Errorf("checkpoint load %s: %s: %w", name, dtype, compressor.ErrUnsupportedDType)
	}
	count, err := conv.Uint64ToInt(binary.LittleEndian.Uint64(raw[8:]))
	if err != nil {
		return compressor.TensorView{}, fmt.Errorf("checkpoint load %s: %w", name, err)
	}
	if len(raw)-headerSize != count*es {
		return compressor.TensorView{}, fmt.Errorf("checkpoint load %s: snapshot has %d element bytes, header says %d",
			name, len(raw)-headerSize, count*es)
	}

	return compressor.TensorView{Data: raw[headerSize:], Count: count, DType: dtype}, nil
}
