package runtime

import (
	"github.com/ojdaemon/ojd/internal/oj"
)

// LivenessInterval is the agent liveness check period in ms. The
// reducer and the executor each carry their own 15-second default
// rather than reading this constant.
const LivenessInterval = 15000 // ms

// IsStaleHook reports whether a hook event naming agentID belongs to a
// step that has since moved on: the job's current step record must
// still name agentID as its agent, otherwise the hook is from a
// previous step whose agent has not yet been cleaned up and should be
// dropped rather than threaded into the state machine.
func IsStaleHook(job *oj.Job, agentID oj.AgentID) bool {
	rec := job.CurrentStepRecord()
	if rec == nil || rec.AgentID == nil {
		return true
	}
	return *rec.AgentID != agentID
}

// LivenessCheck decides whether a running agent is gone from the state
// of its tmux session alone: a session that is no longer alive means
// the agent is gone. The agent process inside the session is not
// checked.
type LivenessCheck struct {
	SessionAlive func(oj.SessionID) bool
}

// CheckLiveness returns true when agent should be declared gone.
func (l LivenessCheck) CheckLiveness(sessionID oj.SessionID) bool {
	if l.SessionAlive == nil {
		return false
	}
	return !l.SessionAlive(sessionID)
}
