package models

// SeriesScope selects whether a lifecycle operation touches one occurrence or the rest of its series.
type SeriesScope string

const (
	ScopeSingle SeriesScope = "single"
	ScopeSeries SeriesScope = "series"
)

// BatchItem records one successfully applied item of a series operation.
type BatchItem struct {
	Source LessonSession  `json:"source"`
	Result *LessonSession `json:"result,omitempty"`
}

// BatchFailure records one item that could not be applied.
type BatchFailure struct {
	Session   LessonSession     `json:"session"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Conflicts []SessionConflict `json:"conflicts,omitempty"`
}

// BatchResult summarises a best-effort series operation. Committed items stay committed.
type BatchResult struct {
	Operation string         `json:"operation"`
	Succeeded []BatchItem    `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// Partial reports whether at least one item failed.
func (r *BatchResult) Partial() bool {
	return r != nil && len(r.Failed) > 0
}
