package domain

import (
	"time"

	"github.com/google/uuid"
)

type AgentKind string

const (
	AgentDiscover    AgentKind = "discover"
	AgentCritique    AgentKind = "critique"
	AgentSynthesize  AgentKind = "synthesize"
	AgentHypothesize AgentKind = "hypothesize"
	AgentWrite       AgentKind = "write"
)

func ValidAgentKind(k string) bool {
	switch AgentKind(k) {
	case AgentDiscover, AgentCritique, AgentSynthesize, AgentHypothesize, AgentWrite:
		return true
	}
	return false
}

type TaskState string

const (
	TaskPending        TaskState = "pending"
	TaskRunning        TaskState = "running"
	TaskSucceeded      TaskState = "succeeded"
	TaskFailed         TaskState = "failed"
	TaskAwaitingReview TaskState = "awaiting_review"
	TaskCancelled      TaskState = "cancelled"
)

// Terminal reports whether no further transition can leave the state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

type RunState string

const (
	RunRunning        RunState = "running"
	RunAwaitingReview RunState = "awaiting_review"
	RunSucceeded      RunState = "succeeded"
	RunFailed         RunState = "failed"
	RunRejected       RunState = "rejected"
)

func (s RunState) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunRejected:
		return true
	}
	return false
}

// TaskSpec declares one node of a pipeline DAG.
type TaskSpec struct {
	Name      string    `json:"name"`
	Kind      AgentKind `json:"agent_kind"`
	DependsOn []string  `json:"depends_on,omitempty"`
}

// ResearchPipeline is the fixed pipeline executed for every query.
// Critique and synthesis are independent branches joined by hypothesize.
func ResearchPipeline() []TaskSpec {
	return []TaskSpec{
		{Name: "discover", Kind: AgentDiscover},
		{Name: "critique", Kind: AgentCritique, DependsOn: []string{"discover"}},
		{Name: "synthesize", Kind: AgentSynthesize, DependsOn: []string{"discover"}},
		{Name: "hypothesize", Kind: AgentHypothesize, DependsOn: []string{"critique", "synthesize"}},
		{Name: "write", Kind: AgentWrite, DependsOn: []string{"hypothesize"}},
	}
}

type Task struct {
	ID           string     `json:"id"`
	RunID        uuid.UUID  `json:"run_id"`
	Kind         AgentKind  `json:"agent_kind"`
	DependsOn    []string   `json:"depends_on,omitempty"`
	State        TaskState  `json:"state"`
	Attempts     int        `json:"attempt_count"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	Error        string     `json:"error,omitempty"`
	OriginTaskID string     `json:"origin_task_id,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

type Failure struct {
	Kind    ErrorKind `json:"kind"`
	TaskID  string    `json:"task_id"`
	Message string    `json:"message"`
}

// RunStatus is the externally visible snapshot of a run.
type RunStatus struct {
	RunID      uuid.UUID      `json:"run_id"`
	Query      string         `json:"query"`
	OwnerID    string         `json:"owner_id"`
	State      RunState       `json:"state"`
	TraceID    string         `json:"trace_id"`
	Tasks      []Task         `json:"tasks"`
	Results    map[string]any `json:"partial_results"`
	Hypothesis *Hypothesis    `json:"hypothesis,omitempty"`
	Failure    *Failure       `json:"failure,omitempty"`
	Review     *ReviewRequest `json:"review,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ReviewRequest describes the task held at the confidence gate.
type ReviewRequest struct {
	TaskID          string      `json:"task_id"`
	ConfidenceScore float64     `json:"confidence_score"`
	Threshold       float64     `json:"threshold"`
	Hypothesis      *Hypothesis `json:"hypothesis,omitempty"`
}

// TransitionEvent is emitted once per visible task or run state change.
type TransitionEvent struct {
	RunID     uuid.UUID `json:"run_id"`
	TaskID    string    `json:"task_id,omitempty"`
	AgentKind AgentKind `json:"agent_kind,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Attempt   int       `json:"attempt,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	At        time.Time `json:"at"`
}
