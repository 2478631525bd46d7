package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/Harshitk-cp/scholae/internal/agent"
	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type taskNode struct {
	spec       domain.TaskSpec
	task       domain.Task
	outputHash string
}

// completion carries the result of one task execution back to the run's
// driver goroutine.
type completion struct {
	name     string
	out      agent.Output
	err      error
	attempts int
	started  time.Time
	ended    time.Time
}

type reviewDecision struct {
	approve bool
	reply   chan error
}

// heldResult is a hypothesis task parked at the review gate. Its writes
// are committed only on approval.
type heldResult struct {
	completion
	inputHash string
}

// run is one research query moving through the pipeline DAG. Only the
// driver goroutine mutates it; readers take mu.
type run struct {
	mu sync.RWMutex

	id        uuid.UUID
	query     string
	ownerID   string
	state     domain.RunState
	traceID   string
	createdAt time.Time
	updatedAt time.Time

	order   []string
	nodes   map[string]*taskNode
	outputs map[string]agent.Output
	results map[string]any

	hypothesis *domain.Hypothesis
	held       *heldResult
	review     *domain.ReviewRequest
	failure    *domain.Failure

	events  []domain.TransitionEvent
	changed chan struct{}

	span     trace.Span
	cancel   context.CancelFunc
	reviewCh chan reviewDecision
	done     chan struct{}
}

func newRun(id uuid.UUID, query, ownerID string, pipeline []domain.TaskSpec, now time.Time) *run {
	r := &run{
		id:        id,
		query:     query,
		ownerID:   ownerID,
		state:     domain.RunRunning,
		createdAt: now,
		updatedAt: now,
		nodes:     make(map[string]*taskNode, len(pipeline)),
		outputs:   make(map[string]agent.Output),
		results:   make(map[string]any),
		changed:   make(chan struct{}),
		reviewCh:  make(chan reviewDecision),
		done:      make(chan struct{}),
	}
	for _, spec := range pipeline {
		deps := make([]string, len(spec.DependsOn))
		for i, d := range spec.DependsOn {
			deps[i] = taskID(id, d)
		}
		r.order = append(r.order, spec.Name)
		r.nodes[spec.Name] = &taskNode{
			spec: spec,
			task: domain.Task{
				ID:        taskID(id, spec.Name),
				RunID:     id,
				Kind:      spec.Kind,
				DependsOn: deps,
				State:     domain.TaskPending,
			},
		}
	}
	return r
}

func taskID(runID uuid.UUID, name string) string {
	return runID.String() + "/" + name
}

// ready returns pending tasks whose dependencies have all succeeded, in
// pipeline order. Caller holds mu.
func (r *run) ready() []string {
	var names []string
	for _, name := range r.order {
		n := r.nodes[name]
		if n.task.State != domain.TaskPending {
			continue
		}
		ok := true
		for _, d := range n.spec.DependsOn {
			if r.nodes[d].task.State != domain.TaskSucceeded {
				ok = false
				break
			}
		}
		if ok {
			names = append(names, name)
		}
	}
	return names
}

// dependents returns every task downstream of name, nearest first.
func (r *run) dependents(name string) []string {
	var out []string
	seen := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, candidate := range r.order {
			if seen[candidate] {
				continue
			}
			for _, d := range r.nodes[candidate].spec.DependsOn {
				if d == cur {
					seen[candidate] = true
					out = append(out, candidate)
					queue = append(queue, candidate)
					break
				}
			}
		}
	}
	return out
}

// ancestors returns every task upstream of name.
func (r *run) ancestors(name string) []string {
	var out []string
	seen := map[string]bool{}
	stack := append([]string(nil), r.nodes[name].spec.DependsOn...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		stack = append(stack, r.nodes[cur].spec.DependsOn...)
	}
	return out
}

// dependencyHashes returns the output hashes of the direct dependencies
// of name. Caller holds mu.
func (r *run) dependencyHashes(name string) []string {
	deps := r.nodes[name].spec.DependsOn
	hashes := make([]string, 0, len(deps))
	for _, d := range deps {
		hashes = append(hashes, r.nodes[d].outputHash)
	}
	return hashes
}

// emit records ev and wakes subscribers. Caller holds mu.
func (r *run) emit(ev domain.TransitionEvent) {
	r.events = append(r.events, ev)
	r.updatedAt = ev.At
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *run) snapshot() domain.RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := domain.RunStatus{
		RunID:     r.id,
		Query:     r.query,
		OwnerID:   r.ownerID,
		State:     r.state,
		TraceID:   r.traceID,
		Tasks:     make([]domain.Task, 0, len(r.order)),
		Results:   make(map[string]any, len(r.results)),
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
	for _, name := range r.order {
		t := r.nodes[name].task
		t.DependsOn = append([]string(nil), t.DependsOn...)
		st.Tasks = append(st.Tasks, t)
	}
	for k, v := range r.results {
		st.Results[k] = v
	}
	if r.hypothesis != nil {
		h := *r.hypothesis
		st.Hypothesis = &h
	}
	if r.failure != nil {
		f := *r.failure
		st.Failure = &f
	}
	if r.review != nil {
		rv := *r.review
		st.Review = &rv
	}
	return st
}
