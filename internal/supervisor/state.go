package supervisor

// WorkerState is the Supervisor's lifecycle state, mirrored in every "state"
// event so subscribers (CLI, debug UI) can render a transcript of it without
// polling.
type WorkerState string

const (
	Idle       WorkerState = "idle"
	Starting   WorkerState = "starting"
	Running    WorkerState = "running"
	Restarting WorkerState = "restarting"
	Stopped    WorkerState = "stopped"
	Killed     WorkerState = "killed"
)

// KillReason records why a worker was killed, carried alongside a Killed
// state transition so restart logic and audit logs can tell a policy
// violation from an operator-requested stop.
type KillReason string

const (
	KillReasonNone            KillReason = ""
	KillReasonPolicyViolation KillReason = "policy-violation"
	KillReasonCrash           KillReason = "crash"
	KillReasonRequested       KillReason = "requested"
)

// validTransition reports whether moving from one worker state to another is
// legal per the state machine in spec.md §4.7. Idle is both the start state
// and the only state with no incoming edge besides the zero value.
func validTransition(from, to WorkerState) bool {
	switch from {
	case Idle:
		return to == Starting
	case Starting:
		return to == Running || to == Stopped
	case Running:
		return to == Killed || to == Stopped || to == Restarting
	case Killed:
		return to == Restarting || to == Stopped
	case Restarting:
		return to == Running || to == Stopped
	case Stopped:
		return false
	default:
		return false
	}
}
