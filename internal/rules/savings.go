package rules

// Token estimates for a task handled in the main context versus the summary a
// delegate returns. The saving is the difference.
var (
	fullContextTokens = map[string]int{
		WorkerExplore:  25000,
		WorkerTest:     18000,
		WorkerDocument: 12000,
		WorkerReview:   20000,
		WorkerGeneral:  15000,
	}
	summaryTokens = map[string]int{
		WorkerExplore:  3000,
		WorkerTest:     5000,
		WorkerDocument: 3000,
		WorkerReview:   5000,
		WorkerGeneral:  4000,
	}
)

// EstimateSavings returns the context tokens saved by delegating a task of
// the given worker type. Unknown types use the general estimate.
func EstimateSavings(workerType string) int {
	full, ok := fullContextTokens[workerType]
	if !ok {
		full = fullContextTokens[WorkerGeneral]
	}
	summary, ok := summaryTokens[workerType]
	if !ok {
		summary = summaryTokens[WorkerGeneral]
	}
	return full - summary
}
