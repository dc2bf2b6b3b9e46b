package pipeline

// Phase tracks where a cycle is. Failed is reachable from any phase and
// always routes to RolledBack with the watermarks untouched.
type Phase int

const (
	PhaseFetching Phase = iota
	PhaseFiltering
	PhaseSequencing
	PhasePersisting
	PhaseCommitted
	PhaseDraining
	PhaseDone
	PhaseFailed
	PhaseRolledBack
)

func (p Phase) String() string {
	switch p {
	case PhaseFetching:
		return "fetching"
	case PhaseFiltering:
		return "filtering"
	case PhaseSequencing:
		return "sequencing"
	case PhasePersisting:
		return "persisting"
	case PhaseCommitted:
		return "committed"
	case PhaseDraining:
		return "draining"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	case PhaseRolledBack:
		return "rolled_back"
	}
	return "unknown"
}
