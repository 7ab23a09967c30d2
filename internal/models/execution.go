package models

// ExecutionPhase is one state of the rollup execution state machine.
type ExecutionPhase string

const (
	PhaseQueued    ExecutionPhase = "queued"
	PhaseFetching  ExecutionPhase = "fetching"
	PhaseMatching  ExecutionPhase = "matching"
	PhaseMerging   ExecutionPhase = "merging"
	PhaseStoring   ExecutionPhase = "storing"
	PhaseCompleted ExecutionPhase = "completed"
	PhaseFailed    ExecutionPhase = "failed"
	PhaseCancelled ExecutionPhase = "cancelled"
)

// Terminal reports whether the phase is an end state.
func (p ExecutionPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// phaseTransitions encodes the legal state machine:
// queued → fetching → matching → merging → storing → completed,
// with failed/cancelled reachable from any non-terminal state.
var phaseTransitions = map[ExecutionPhase]ExecutionPhase{
	PhaseQueued:   PhaseFetching,
	PhaseFetching: PhaseMatching,
	PhaseMatching: PhaseMerging,
	PhaseMerging:  PhaseStoring,
	PhaseStoring:  PhaseCompleted,
}

// CanTransition reports whether moving from p to next is legal.
func (p ExecutionPhase) CanTransition(next ExecutionPhase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFailed || next == PhaseCancelled {
		return true
	}
	return phaseTransitions[p] == next
}

// ExecutionStats accumulates per-execution counters and phase durations.
type ExecutionStats struct {
	RepositoriesFetched int              `json:"repositoriesFetched"`
	RepositoriesSkipped int              `json:"repositoriesSkipped"`
	NodesSeen           int              `json:"nodesSeen"`
	EdgesSeen           int              `json:"edgesSeen"`
	CandidatePairs      int              `json:"candidatePairs"`
	MatcherEvaluations  int              `json:"matcherEvaluations"`
	EquivalenceClasses  int              `json:"equivalenceClasses"`
	AmbiguousMatches    int              `json:"ambiguousMatches"`
	MergedNodes         int              `json:"mergedNodes"`
	MergedEdges         int              `json:"mergedEdges"`
	CrossRepoEdges      int              `json:"crossRepoEdges"`
	PhaseDurationsMs    map[string]int64 `json:"phaseDurationsMs,omitempty"`
}

// ExecutionError is the persisted shape of a terminal failure.
type ExecutionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Phase   string `json:"phase,omitempty"`
}

// RollupExecution is one run of the rollup pipeline.
// Timestamps are Unix nanoseconds; FinishedAt is zero while running.
type RollupExecution struct {
	ID         string          `json:"id"`
	RollupID   string          `json:"rollupId"`
	TenantID   string          `json:"tenantId"`
	ScanIDs    []string        `json:"scanIds"`
	Phase      ExecutionPhase  `json:"phase"`
	Stats      ExecutionStats  `json:"stats"`
	Error      *ExecutionError `json:"error,omitempty"`
	StartedAt  int64           `json:"startedAt"`
	FinishedAt int64           `json:"finishedAt,omitempty"`
}

// ExecutionFilter narrows ListExecutions results.
type ExecutionFilter struct {
	Phase  ExecutionPhase `json:"phase,omitempty"`
	Since  int64          `json:"since,omitempty"` // StartedAt >= Since (Unix ns)
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}
