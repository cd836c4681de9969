// Package engine implements the relgraph object graph engine.
//
// An Engine holds records of declared models, the edges of their relations
// and the derived fields computed from both. Callers change the graph with
// Insert, Update, Delete and relation commands; the engine keeps inverse
// relations symmetric and recomputes every derived field whose inputs
// changed.
//
// ARCHITECTURE:
//
// Schema:
// Models are declared once (ir.ModelSpec plus Go compute functions) and
// sealed. Sealing pairs every relation with its inverse and builds the
// static reverse index from a field to the derived fields that read it.
//
// Relation graph:
// One edge set per relation pair. Each edge is stored once, with a forward
// and a backward index, so the two sides of an inverse pair cannot
// disagree. To-one sides are enforced on write.
//
// Batches and recomputation:
// Every top-level call opens a batch; nested calls join it. When the
// outermost batch closes, pending (record, field) pairs are recomputed in
// FIFO order, each only once none of its inputs is pending. Related fields
// track the records along their path dynamically, so reassigning an
// intermediate relation re-targets the dependency.
//
// Event loop:
// Server pushes and remote call completions arrive on an unbounded FIFO
// queue and are applied by a single goroutine (Run, or Drain in tests).
// Remote calls run as Tasks; their continuations are serialized with all
// other mutations.
//
// CRITICAL PATTERNS:
//
// Logical clock:
// Committed batches and remote calls are stamped from a monotonic Clock.
// NEVER use wall-clock timestamps for ordering.
//
// Deterministic scheduling:
// Dependents are scheduled in a fixed order and values are compared by
// ir.Equal, so the same mutations always produce the same recomputations,
// the same batch ids and the same snapshot. Replay relies on it.
package engine
