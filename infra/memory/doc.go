// Package memory provides typed object pools used by the benchmark
// clients. Reclamation engines hand freed nodes back through these
// pools so a long run recycles its node population instead of
// pressuring the allocator.
package memory
