package tool

// Bounds describes how a tool result has been truncated relative to the
// full underlying data set, grounded on the teacher's runtime/agent.Bounds:
// a small, tool-agnostic contract so callers can surface truncation
// metadata without re-inspecting tool-specific Result.Data shapes.
//
// Returned reports how many items or points are present in the bounded
// view. Total, when non-nil, reports the best-effort total before
// truncation. Truncated indicates whether any caps were applied (length,
// window, depth). RefinementHint gives short, human-readable guidance on
// how to narrow the query when Truncated is true.
type Bounds struct {
	Returned       int
	Total          *int
	Truncated      bool
	RefinementHint string
}

// BoundedResult is an optional interface a tool's Result.Data may
// implement to expose truncation metadata directly, so callers prefer it
// over heuristic inspection of tool-specific fields.
type BoundedResult interface {
	Bounds() Bounds
}
