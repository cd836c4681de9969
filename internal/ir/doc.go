// Package ir provides the data types shared by every relgraph package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// It holds three groups of types:
//   - Values: the sealed IRValue family stored in attribute fields and
//     decoded from server payloads.
//   - Declarations: ModelSpec and FieldSpec, the tagged-variant field
//     descriptors produced by the compiler and consumed by the engine.
//   - Records of what happened: Batch, Op, Call and CallRecord for the
//     journal, and Snapshot for checkpoints.
//
// Key design constraints:
//   - NO float types anywhere - payload decimals are kept as their literal text
//   - All JSON tags use snake_case
//   - Logical clocks (seq) only, never wall-clock timestamps
package ir
