package reqflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Node is one unit of a request graph. Build is called only after every
// dependency succeeded, with their results keyed by node ID, and returns the
// Operation to submit.
type Node struct {
	ID        string
	DependsOn []string
	Build     func(deps map[string]*Result) (*Operation, error)
}

// Graph is a set of Nodes forming a dependency DAG.
type Graph struct {
	nodes map[string]*Node
	order []string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Add inserts a node. Duplicate IDs and nodes without a Build function are
// rejected.
func (g *Graph) Add(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("reqflow: graph node must have an ID")
	}
	if n.Build == nil {
		return fmt.Errorf("reqflow: graph node %q must have a Build function", n.ID)
	}
	if _, ok := g.nodes[n.ID]; ok {
		return fmt.Errorf("reqflow: duplicate graph node %q", n.ID)
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// NodeResult is the per-node outcome of a graph run. Exactly one of Result
// and Err is set.
type NodeResult struct {
	Result *Result
	Err    error
}

// Orchestrator executes request graphs on a Scheduler. A node's failure
// resolves every transitive dependent with ClassDependencyFailed without
// submitting it; independent branches keep running.
type Orchestrator struct {
	scheduler *Scheduler
	logger    Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the orchestrator's logger.
func WithOrchestratorLogger(l Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// NewOrchestrator creates an orchestrator on s.
func NewOrchestrator(s *Scheduler, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{scheduler: s, logger: s.logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the graph and returns one NodeResult per node. The graph is
// validated up front: an unknown dependency or a cycle rejects the whole run
// before anything is submitted. Run returns once every node resolved; the
// error is non-nil only for validation failures.
func (o *Orchestrator) Run(ctx context.Context, g *Graph) (map[string]*NodeResult, error) {
	if err := o.validateGraph(g); err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*NodeResult, len(g.nodes))
		done    = make(map[string]chan struct{}, len(g.nodes))
	)
	for id := range g.nodes {
		done[id] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for _, id := range g.order {
		n := g.nodes[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(done[n.ID])

			deps := make(map[string]*Result, len(n.DependsOn))
			for _, depID := range n.DependsOn {
				select {
				case <-done[depID]:
				case <-ctx.Done():
					o.record(&mu, results, n.ID, nil, o.nodeError(n, ctxClass(ctx.Err()), "context ended before dependencies resolved", ctx.Err()))
					return
				}

				mu.Lock()
				depRes := results[depID]
				mu.Unlock()
				if depRes.Err != nil {
					o.record(&mu, results, n.ID, nil, o.nodeError(n, ClassDependencyFailed,
						fmt.Sprintf("dependency %q failed", depID), depRes.Err))
					return
				}
				deps[depID] = depRes.Result
			}

			op, err := n.Build(deps)
			if err != nil {
				o.record(&mu, results, n.ID, nil, o.nodeError(n, ClassFatal, "node build failed", err))
				return
			}

			res, err := o.scheduler.Submit(ctx, op).Wait(ctx)
			o.record(&mu, results, n.ID, res, err)
		}()
	}
	wg.Wait()
	return results, nil
}

func (o *Orchestrator) record(mu *sync.Mutex, results map[string]*NodeResult, id string, res *Result, err error) {
	mu.Lock()
	results[id] = &NodeResult{Result: res, Err: err}
	mu.Unlock()

	if err != nil && o.logger != nil {
		o.logger.Warn("graph node failed", "node", id, "error", err.Error())
	}
}

func (o *Orchestrator) nodeError(n *Node, class Classification, msg string, cause error) *RequestError {
	if o.scheduler != nil {
		o.scheduler.metrics.RecordError(class)
	}
	return &RequestError{
		Type:    class,
		Message: fmt.Sprintf("node %q: %s", n.ID, msg),
		Cause:   cause,
	}
}

// validateGraph checks that every dependency exists and that the graph is
// acyclic, reporting one concrete cycle path when it is not.
func (o *Orchestrator) validateGraph(g *Graph) error {
	if g == nil || len(g.nodes) == 0 {
		return fmt.Errorf("reqflow: graph is empty")
	}

	for _, id := range g.order {
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("reqflow: node %q depends on unknown node %q", id, dep)
			}
		}
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.nodes))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)
		deps := append([]string(nil), g.nodes[id].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case gray:
				// Found the back edge; cut the path down to the cycle.
				for i, p := range path {
					if p == dep {
						return append(append([]string(nil), path[i:]...), dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		color[id] = black
		path = path[:len(path)-1]
		return nil
	}

	ids := append([]string(nil), g.order...)
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] != white {
			continue
		}
		path = path[:0]
		if cycle := visit(id); cycle != nil {
			return &RequestError{
				Type:    ClassCyclicDependency,
				Message: fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
			}
		}
	}
	return nil
}
