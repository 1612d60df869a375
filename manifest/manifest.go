// Package manifest distributes the out-of-band compression parameters that the
// wire format deliberately omits.
//
// A packed gradient carries no header: record count, element count, element
// type and the selection seed all have to be agreed on by every worker before
// the first round. A manifest Store holds one Params record per tensor key;
// the first writer wins and later workers adopt the committed record.
package manifest

import (
	"errors"
	"fmt"

	"github.com/hupe1980/gradsync/compressor"
)

// SchemeRandomK is the only compression scheme currently defined.
const SchemeRandomK = "randomk"

var (
	// ErrNotFound is returned when no record exists for a tensor key.
	ErrNotFound = errors.New("manifest: record not found")

	// ErrConcurrentModification is returned when a conflicting record for the
	// same tensor key has already been committed.
	ErrConcurrentModification = errors.New("manifest: conflicting record already committed")
)

// Params is the full parameter set for one tensor stream. Every field is part
// of the cross-worker contract: two ends that disagree on any of them will
// misread each other's bytes.
type Params struct {
	Key           string           `json:"key"`
	Scheme        string           `json:"scheme"`
	DType         compressor.DType `json:"dtype"`
	Size          int              `json:"size"`
	K             int              `json:"k"`
	Seed          int64            `json:"seed"`
	Deterministic bool             `json:"deterministic"`
	// Momentum is the heavy-ball mixing parameter mu; 0 disables the
	// momentum decorator entirely.
	Momentum float64 `json:"momentum"`
}

// Validate checks the record for the same misconfigurations the compressor
// constructors reject, so a bad record fails at registration time rather than
// on some worker's first round.
func (p Params) Validate() error {
	if p.Key == "" {
		return errors.New("manifest: empty tensor key")
	}
	if p.Scheme != SchemeRandomK {
		return fmt.Errorf("manifest: unknown scheme %q", p.Scheme)
	}
	if !p.DType.Valid() {
		return fmt.Errorf("manifest: %s: %w", p.DType, compressor.ErrUnsupportedDType)
	}
	if p.Size <= 0 {
		return fmt.Errorf("manifest: size %d: %w", p.Size, compressor.ErrInvalidSize)
	}
	if p.K <= 0 || p.K > p.Size {
		return fmt.Errorf("manifest: k %d with size %d: %w", p.K, p.Size, compressor.ErrInvalidK)
	}
	return nil
}
