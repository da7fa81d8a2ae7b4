// Package graph builds the dependency DAG for a workflow's steps by scanning
// their input mappings and conditions for $stepK references, and derives the
// parallel execution waves.
package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// StepRef is the minimal view of a workflow step the graph needs: its number,
// output variable, and the raw expression strings to scan for references.
type StepRef struct {
	Number         int
	Name           string
	OutputVariable string
	Expressions    []string
}

var stepRefPattern = regexp.MustCompile(`\$step(\d+)\b`)

// DependencyGraph is an integer-indexed DAG over step numbers 1..N.
// It lives in memory for a single run.
type DependencyGraph struct {
	n            int
	names        []string // index 0 unused
	predecessors [][]int
	successors   [][]int
}

// ValidationError reports one or more workflow structure violations.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow: %s", strings.Join(e.Problems, "; "))
}

// Build constructs and validates the dependency graph. Validation covers
// contiguous 1..N numbering, unique output variables, self and forward
// references, and cycles.
func Build(steps []StepRef) (*DependencyGraph, error) {
	var problems []string

	n := len(steps)
	seen := make(map[int]bool, n)
	outputVars := make(map[string]int, n)
	for _, step := range steps {
		if step.Number < 1 || step.Number > n {
			problems = append(problems, fmt.Sprintf("step number %d outside 1..%d", step.Number, n))
			continue
		}
		if seen[step.Number] {
			problems = append(problems, fmt.Sprintf("duplicate step number %d", step.Number))
		}
		seen[step.Number] = true
		if step.OutputVariable != "" {
			if prev, dup := outputVars[step.OutputVariable]; dup {
				problems = append(problems, fmt.Sprintf("output variable %q used by steps %d and %d", step.OutputVariable, prev, step.Number))
			}
			outputVars[step.OutputVariable] = step.Number
		}
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			problems = append(problems, fmt.Sprintf("missing step number %d", i))
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	g := &DependencyGraph{
		n:            n,
		names:        make([]string, n+1),
		predecessors: make([][]int, n+1),
		successors:   make([][]int, n+1),
	}

	for _, step := range steps {
		g.names[step.Number] = step.Name
		deps := make(map[int]bool)
		for _, expr := range step.Expressions {
			for _, match := range stepRefPattern.FindAllStringSubmatch(expr, -1) {
				ref, err := strconv.Atoi(match[1])
				if err != nil {
					continue
				}
				switch {
				case ref == step.Number:
					problems = append(problems, fmt.Sprintf("step %d references itself", step.Number))
				case ref > step.Number:
					problems = append(problems, fmt.Sprintf("step %d has forward reference to step %d", step.Number, ref))
				case ref < 1 || ref > n:
					problems = append(problems, fmt.Sprintf("step %d references non-existent step %d", step.Number, ref))
				default:
					deps[ref] = true
				}
			}
		}
		for dep := range deps {
			g.predecessors[step.Number] = append(g.predecessors[step.Number], dep)
			g.successors[dep] = append(g.successors[dep], step.Number)
		}
		sort.Ints(g.predecessors[step.Number])
	}
	for i := 1; i <= n; i++ {
		sort.Ints(g.successors[i])
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	if cycles := g.findCycles(); len(cycles) > 0 {
		for _, cycle := range cycles {
			problems = append(problems, fmt.Sprintf("cycle: %s", formatCycle(cycle)))
		}
		return nil, &ValidationError{Problems: problems}
	}

	return g, nil
}

// findCycles detects cycles via DFS with a recursion stack, collecting one
// representative cycle per back edge.
func (g *DependencyGraph) findCycles() [][]int {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make([]int, g.n+1)
	var stack []int
	var cycles [][]int

	var visit func(node int)
	visit = func(node int) {
		color[node] = grey
		stack = append(stack, node)
		for _, next := range g.successors[node] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				// Back edge: slice the stack from the first occurrence of next.
				for i, v := range stack {
					if v == next {
						cycle := append(append([]int{}, stack[i:]...), next)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
	}

	for node := 1; node <= g.n; node++ {
		if color[node] == white {
			visit(node)
		}
	}
	return cycles
}

func formatCycle(cycle []int) string {
	parts := make([]string, len(cycle))
	for i, v := range cycle {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " -> ")
}

// Size returns the number of steps.
func (g *DependencyGraph) Size() int { return g.n }

// Predecessors returns the direct dependency set of a step.
func (g *DependencyGraph) Predecessors(step int) []int {
	if step < 1 || step > g.n {
		return nil
	}
	return g.predecessors[step]
}

// Successors returns the direct dependent set of a step.
func (g *DependencyGraph) Successors(step int) []int {
	if step < 1 || step > g.n {
		return nil
	}
	return g.successors[step]
}

// ExecutionOrder returns the topological generations: each wave contains
// steps whose dependencies are all in earlier waves, sorted by step number
// within the wave for determinism.
func (g *DependencyGraph) ExecutionOrder() [][]int {
	inDegree := make([]int, g.n+1)
	for i := 1; i <= g.n; i++ {
		inDegree[i] = len(g.predecessors[i])
	}

	var waves [][]int
	var current []int
	for i := 1; i <= g.n; i++ {
		if inDegree[i] == 0 {
			current = append(current, i)
		}
	}
	for len(current) > 0 {
		sort.Ints(current)
		waves = append(waves, current)
		var next []int
		for _, node := range current {
			for _, succ := range g.successors[node] {
				inDegree[succ]--
				if inDegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		current = next
	}
	return waves
}

// CriticalPath returns the longest root-to-leaf path as a list of step
// numbers. Used for UI and estimation only.
func (g *DependencyGraph) CriticalPath() []int {
	waves := g.ExecutionOrder()
	longest := make([]int, g.n+1)  // longest path length ending at node
	previous := make([]int, g.n+1) // predecessor on that path

	best := 0
	for _, wave := range waves {
		for _, node := range wave {
			longest[node] = 1
			previous[node] = 0
			for _, pred := range g.predecessors[node] {
				if longest[pred]+1 > longest[node] {
					longest[node] = longest[pred] + 1
					previous[node] = pred
				}
			}
			if best == 0 || longest[node] > longest[best] {
				best = node
			}
		}
	}
	if best == 0 {
		return nil
	}

	var path []int
	for node := best; node != 0; node = previous[node] {
		path = append(path, node)
	}
	// Reverse into root-to-leaf order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// ParallelizationFactor is 1 - criticalPathLength/totalSteps: zero for a
// fully sequential chain, approaching one for wide graphs.
func (g *DependencyGraph) ParallelizationFactor() float64 {
	if g.n == 0 {
		return 0
	}
	return 1 - float64(len(g.CriticalPath()))/float64(g.n)
}

// CanExecuteInParallel reports whether no directed path exists between the
// two steps in either direction.
func (g *DependencyGraph) CanExecuteInParallel(a, b int) bool {
	if a == b {
		return false
	}
	return !g.reachable(a, b) && !g.reachable(b, a)
}

func (g *DependencyGraph) reachable(from, to int) bool {
	visited := make([]bool, g.n+1)
	queue := []int{from}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == to {
			return true
		}
		for _, succ := range g.successors[node] {
			if !visited[succ] {
				visited[succ] = true
				queue = append(queue, succ)
			}
		}
	}
	return false
}

// Stats summarises the graph shape.
type Stats struct {
	TotalSteps      int
	MaxDependencies int // widest fan-in
	MaxDependents   int // widest fan-out
	MaxParallelism  int // widest wave
	Depth           int // number of waves
	CriticalPathLen int
}

// Statistics computes summary statistics for the graph.
func (g *DependencyGraph) Statistics() Stats {
	stats := Stats{TotalSteps: g.n}
	for i := 1; i <= g.n; i++ {
		if len(g.predecessors[i]) > stats.MaxDependencies {
			stats.MaxDependencies = len(g.predecessors[i])
		}
		if len(g.successors[i]) > stats.MaxDependents {
			stats.MaxDependents = len(g.successors[i])
		}
	}
	waves := g.ExecutionOrder()
	stats.Depth = len(waves)
	for _, wave := range waves {
		if len(wave) > stats.MaxParallelism {
			stats.MaxParallelism = len(wave)
		}
	}
	stats.CriticalPathLen = len(g.CriticalPath())
	return stats
}
