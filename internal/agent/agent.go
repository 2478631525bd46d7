// Package agent implements the five research agents and the Runner that
// dispatches tasks to them. Agents read through the stores and services
// they are built with, but every write they want is staged on the Output
// and committed by the orchestrator.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// stagedNamespace seeds the deterministic ids of staged records so that a
// re-committed write lands on the same row.
var stagedNamespace = uuid.MustParse("2b7e4f10-95c3-5a61-b0d2-7c48e1f9a356")

// StagedID returns the id of the record a task stages under label.
func StagedID(runID uuid.UUID, taskID, label string) uuid.UUID {
	return uuid.NewSHA1(stagedNamespace, []byte(runID.String()+":"+taskID+":"+label))
}

type Input struct {
	RunID   uuid.UUID
	TaskID  string
	Query   string
	OwnerID string
	Prior   map[domain.AgentKind]Output
}

// Output is what one agent execution produced. Data holds the kind
// specific payload (DiscoverOutput, CritiqueOutput and so on).
type Output struct {
	Kind         domain.AgentKind            `json:"kind"`
	Data         any                         `json:"data"`
	MemoryWrites []domain.MemoryRecord       `json:"memory_writes,omitempty"`
	Observations []domain.ConceptObservation `json:"observations,omitempty"`
	EdgeWrites   []domain.RelationshipEdge   `json:"edge_writes,omitempty"`
	// Accesses are the recalled records whose access statistics are
	// reinforced once the task commits.
	Accesses   []uuid.UUID           `json:"accesses,omitempty"`
	Reads      []domain.MemoryRecord `json:"-"`
	Hypothesis *domain.Hypothesis    `json:"hypothesis,omitempty"`
}

type Agent interface {
	Kind() domain.AgentKind
	Run(ctx context.Context, in Input) (Output, error)
	// Validate checks the shape of an output of this agent's kind.
	Validate(out Output) error
}

// Deps are the read handles shared by every agent.
type Deps struct {
	Recall    *service.RecallService
	Reasoning *service.ReasoningService
	LLM       domain.LLMClient
	Logger    *zap.Logger

	// RecallK bounds how many memories discover reads. Zero means 10.
	RecallK int
	// MaxHops bounds bridge search. Zero means the reasoning default.
	MaxHops int
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now()
}

// Runner executes an agent by kind and validates what it returns.
type Runner struct {
	agents map[domain.AgentKind]Agent
	logger *zap.Logger
}

// NewRunner registers the full research agent set.
func NewRunner(deps Deps) *Runner {
	return NewRunnerWith(deps.Logger,
		&discoverAgent{deps: deps},
		&critiqueAgent{deps: deps},
		&synthesizeAgent{deps: deps},
		&hypothesizeAgent{deps: deps},
		&writeAgent{deps: deps},
	)
}

// NewRunnerWith registers the given agents only.
func NewRunnerWith(logger *zap.Logger, agents ...Agent) *Runner {
	r := &Runner{agents: make(map[domain.AgentKind]Agent, len(agents)), logger: logger}
	for _, a := range agents {
		r.agents[a.Kind()] = a
	}
	return r
}

// Run executes the agent registered for kind. A malformed output is
// returned as a *domain.ValidationError.
func (r *Runner) Run(ctx context.Context, kind domain.AgentKind, in Input) (Output, error) {
	a, ok := r.agents[kind]
	if !ok {
		return Output{}, fmt.Errorf("%w: %s", domain.ErrUnknownAgent, kind)
	}
	out, err := a.Run(ctx, in)
	if err != nil {
		return Output{}, err
	}
	out.Kind = kind
	if err := a.Validate(out); err != nil {
		r.logger.Warn("agent output rejected",
			zap.String("run_id", in.RunID.String()),
			zap.String("task_id", in.TaskID),
			zap.String("agent_kind", string(kind)),
			zap.Error(err))
		return Output{}, err
	}
	return out, nil
}

func invalid(kind domain.AgentKind, format string, args ...any) error {
	return &domain.ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// priorData fetches the payload a dependency produced.
func priorData[T any](in Input, kind domain.AgentKind) (T, error) {
	var zero T
	out, ok := in.Prior[kind]
	if !ok {
		return zero, fmt.Errorf("missing %s output", kind)
	}
	data, ok := out.Data.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected %s output type %T", kind, out.Data)
	}
	return data, nil
}
