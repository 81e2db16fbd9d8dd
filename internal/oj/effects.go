package oj

// EffectKind discriminates the closed effect enum the reducer emits.
// Effects are the only channel through which the runtime talks to the
// outside world (shell, tmux, notifications, timers) — the reducer
// itself never performs I/O.
type EffectKind string

const (
	EffectEmit           EffectKind = "emit"
	EffectSetTimer       EffectKind = "set_timer"
	EffectCancelTimer    EffectKind = "cancel_timer"
	EffectShell          EffectKind = "shell"
	EffectSpawnAgent     EffectKind = "spawn_agent"
	EffectSendToAgent    EffectKind = "send_to_agent"
	EffectSendToSession  EffectKind = "send_to_session"
	EffectKillSession    EffectKind = "kill_session"
	EffectNotify         EffectKind = "notify"
	EffectTakeQueueItem  EffectKind = "take_queue_item"
	EffectCheckLiveness  EffectKind = "check_liveness"
)

// Effect is the single closed envelope returned by the runtime's
// transition functions. Exactly one payload field is populated,
// selected by Kind.
type Effect struct {
	Kind EffectKind `json:"kind"`

	Emit          *Event               `json:"emit,omitempty"`
	SetTimer      *SetTimerEffect      `json:"set_timer,omitempty"`
	CancelTimer   *CancelTimerEffect   `json:"cancel_timer,omitempty"`
	Shell         *ShellEffect         `json:"shell,omitempty"`
	SpawnAgent    *SpawnAgentEffect    `json:"spawn_agent,omitempty"`
	SendToAgent   *SendToAgentEffect   `json:"send_to_agent,omitempty"`
	SendToSession *SendToSessionEffect `json:"send_to_session,omitempty"`
	KillSession   *KillSessionEffect   `json:"kill_session,omitempty"`
	Notify        *NotifyEffect        `json:"notify,omitempty"`
	TakeQueueItem *TakeQueueItemEffect `json:"take_queue_item,omitempty"`
	CheckLiveness *CheckLivenessEffect `json:"check_liveness,omitempty"`
}

type SetTimerEffect struct {
	ID       TimerID `json:"id"`
	FireAtMS int64   `json:"fire_at_ms"`
	Owner    Owner   `json:"owner"`
	Label    string  `json:"label,omitempty"`
}

type CancelTimerEffect struct {
	ID TimerID `json:"id"`
}

// ShellEffect runs one command to completion (or cancellation) and
// reports its result back through a ShellExited event.
type ShellEffect struct {
	JobID    JobID             `json:"job_id"`
	StepName string            `json:"step_name"`
	Command  string            `json:"command"`
	Dir      string            `json:"dir"`
	Env      map[string]string `json:"env,omitempty"`
	OutputSpecs map[string]string `json:"output_specs,omitempty"` // name -> "stdout"|"stderr"|"exit_code"|"file:<path>"

	// IsGate marks this as a gate predicate check rather than the
	// step's own run command: a non-zero exit means "not yet", not
	// "failed", so OnShellExited must route it differently.
	IsGate bool `json:"is_gate,omitempty"`
}

type SpawnAgentEffect struct {
	ID         AgentID           `json:"id"`
	Name       string            `json:"name"`
	Owner      Owner             `json:"owner"`
	Namespace  string            `json:"namespace"`
	Binary     string            `json:"binary"`
	PromptFile string            `json:"prompt_file,omitempty"`
	Dir        string            `json:"dir"`
	Env        map[string]string `json:"env,omitempty"`
	ResumeSessionID *SessionID   `json:"resume_session_id,omitempty"`
}

type SendToAgentEffect struct {
	ID      AgentID `json:"id"`
	Message string  `json:"message"`
}

type SendToSessionEffect struct {
	ID    SessionID `json:"id"`
	Input string    `json:"input"`
}

type KillSessionEffect struct {
	ID    SessionID `json:"id"`
	Force bool      `json:"force"`
}

type NotifyEffect struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type TakeQueueItemEffect struct {
	QueueName   string `json:"queue_name"`
	Namespace   string `json:"namespace"`
	TakeCommand string `json:"take_command,omitempty"`
	WorkerName  string `json:"worker_name"`
}

// CheckLivenessEffect asks the agent adapter whether AgentID's backing
// session and process are still alive. Owner is carried through so the
// dispatcher can re-arm the next liveness timer against the same owner
// without the reducer needing to look it up again.
type CheckLivenessEffect struct {
	AgentID AgentID `json:"agent_id"`
	Owner   Owner   `json:"owner"`
}
