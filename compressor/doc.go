// Package compressor implements lossy gradient compression for distributed
// training synchronization.
//
// A Compressor shrinks a gradient tensor before it is handed to the transport
// layer and reconstructs a full-size approximation on the receiving side. The
// package ships one sparsification strategy (RandomK) and a Momentum decorator
// that folds heavy-ball accumulation into the compress path. Error-feedback
// residuals are maintained through UpdateError/FastUpdateError so that lossy
// rounds stay unbiased over time.
//
// # Buffer ownership
//
// Compress and Decompress return views into scratch memory owned by the
// instance. A returned view is valid until the next call on the same instance.
// Instances are not safe for concurrent use; drive one instance per gradient
// stream.
//
// # Wire format
//
// RandomK packs exactly k records of [index][value], little-endian, with the
// index stored in the narrowest unsigned width that can address the configured
// element count. There is no header: record count, element count and element
// type must be agreed out-of-band by both ends (see the manifest package).
package compressor
