// Package gradsync is a gradient-compression engine for distributed model
// training. It shrinks the gradient volume exchanged between workers each
// synchronization round while preserving convergence through error feedback
// and momentum correction.
//
// The compressor package holds the core strategy types (RandomK
// sparsification, the Momentum decorator). This package adds the integration
// layer a trainer actually drives: a per-tensor stream registry, concurrent
// round execution, payload framing, checkpointing of compressor state and
// manifest-based parameter agreement between workers.
//
//	eng := gradsync.New(gradsync.WithPayloadCompression(payload.LZ4))
//	_ = eng.Register(manifest.Params{
//	    Key: "dense1/weights", Scheme: manifest.SchemeRandomK,
//	    DType: compressor.Float32, Size: 1 << 20, K: 1 << 14,
//	    Momentum: 0.9,
//	})
//	frames, err := eng.Round(ctx, grads) // frames go to the transport layer
//
// Network transmission itself and training-framework operator registration
// stay external; the engine begins at raw gradient bytes and ends at framed
// payloads.
package gradsync
