package scheduler

import (
	"sort"

	"github.com/t77yq/trigger-planner/internal/model"
)

// Edge is a completion dependency: From waits for To to finish
type Edge struct {
	From string
	To   string
}

// DependencyGraph indexes the completion edges of a job snapshot
type DependencyGraph struct {
	deps       map[string][]string // Map of job name to the jobs it waits on
	dependents map[string][]string // Map of job name to the jobs waiting on it
}

// NewDependencyGraph builds the graph implied by the jobs' completion conditions
func NewDependencyGraph(jobs []*model.Job) *DependencyGraph {
	g := &DependencyGraph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
	for _, job := range jobs {
		for _, dep := range job.Dependencies() {
			g.addEdge(Edge{From: job.Name, To: dep})
		}
	}
	return g
}

func (g *DependencyGraph) addEdge(e Edge) {
	g.deps[e.From] = append(g.deps[e.From], e.To)
	g.dependents[e.To] = append(g.dependents[e.To], e.From)
}

// Dependencies returns the jobs name waits on
func (g *DependencyGraph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// Dependents returns the jobs that fire when name completes
func (g *DependencyGraph) Dependents(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// WouldCreateCycle reports whether adding e closes a cycle
func (g *DependencyGraph) WouldCreateCycle(e Edge) bool {
	return g.path(e.To, e.From) != nil
}

// CheckEdge returns a *CycleError if adding e closes a cycle
func (g *DependencyGraph) CheckEdge(e Edge) error {
	if p := g.path(e.To, e.From); p != nil {
		return &CycleError{From: e.From, To: e.To, Path: p}
	}
	return nil
}

// CheckReplacement validates replacing all of name's completion edges with
// deps. Either every edge is acceptable or the first offending one is reported.
func (g *DependencyGraph) CheckReplacement(name string, deps []string) error {
	trial := &DependencyGraph{
		deps:       make(map[string][]string, len(g.deps)),
		dependents: g.dependents,
	}
	for k, v := range g.deps {
		if k != name {
			trial.deps[k] = v
		}
	}
	trial.deps[name] = deps

	for _, dep := range deps {
		if err := trial.CheckEdge(Edge{From: name, To: dep}); err != nil {
			return err
		}
	}
	return nil
}

// path runs a depth-first search from start along dependency edges and
// returns the node sequence reaching target, or nil. Each node is expanded at
// most once, so the search is linear in the graph size.
func (g *DependencyGraph) path(start, target string) []string {
	if start == target {
		return []string{start}
	}

	parent := map[string]string{start: ""}
	stack := []string{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, next := range g.deps[current] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = current
			if next == target {
				return unwind(parent, start, target)
			}
			stack = append(stack, next)
		}
	}
	return nil
}

func unwind(parent map[string]string, start, target string) []string {
	var rev []string
	for node := target; ; node = parent[node] {
		rev = append(rev, node)
		if node == start {
			break
		}
	}
	out := make([]string, len(rev))
	for i, n := range rev {
		out[len(rev)-1-i] = n
	}
	return out
}

// FindCycle returns one existing cycle in the graph, or nil when it is acyclic
func (g *DependencyGraph) FindCycle() []string {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var stack []string
	var cycle []string

	var visit func(string) bool
	visit = func(current string) bool {
		if onPath[current] {
			for i, n := range stack {
				if n == current {
					cycle = append(append([]string(nil), stack[i:]...), current)
					break
				}
			}
			return true
		}
		if visited[current] {
			return false
		}

		visited[current] = true
		onPath[current] = true
		stack = append(stack, current)

		for _, dep := range g.deps[current] {
			if visit(dep) {
				return true
			}
		}

		stack = stack[:len(stack)-1]
		onPath[current] = false
		return false
	}

	names := make([]string, 0, len(g.deps))
	for name := range g.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if visit(name) {
			return cycle
		}
	}
	return nil
}

// WouldCreateCycle reports whether adding e to the graph implied by jobs closes a cycle
func WouldCreateCycle(jobs []*model.Job, e Edge) bool {
	return NewDependencyGraph(jobs).WouldCreateCycle(e)
}
