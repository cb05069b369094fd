// Package dag holds the phasing task graph and the builder that derives it
// from the run manifest and the chunk catalog.
package dag

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vk/phasegrid/internal/faults"
	"github.com/vk/phasegrid/internal/genome"
)

// Graph is a collection of tasks and their dependencies, representing a DAG.
// All operations on the graph are concurrency-safe.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
}

type node struct {
	task *Task
	// deps holds the nodes this node depends on (predecessors).
	deps map[string]*node
	// dependents holds the nodes that depend on this node (successors).
	dependents map[string]*node
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddTask adds t to the graph. Adding a second task with the same key is an
// error since task identity is what artifacts and state records hang off.
func (g *Graph) AddTask(t *Task) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	key := t.ID.Key()
	if _, ok := g.nodes[key]; ok {
		return fmt.Errorf("duplicate task: %s", key)
	}
	g.nodes[key] = &node{
		task:       t,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
	return nil
}

// AddEdge records that the task toKey depends on fromKey.
func (g *Graph) AddEdge(fromKey, toKey string) error {
	if fromKey == toKey {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromKey, fromKey)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	from, ok := g.nodes[fromKey]
	if !ok {
		return fmt.Errorf("source task not found: %s", fromKey)
	}
	to, ok := g.nodes[toKey]
	if !ok {
		return fmt.Errorf("destination task not found: %s", toKey)
	}

	to.deps[fromKey] = from
	from.dependents[toKey] = to
	return nil
}

// Task returns the task stored under key.
func (g *Graph) Task(key string) (*Task, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[key]
	if !ok {
		return nil, false
	}
	return n.task, true
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Tasks returns every task sorted by chromosome, then key.
func (g *Graph) Tasks() []*Task {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	tasks := make([]*Task, 0, len(g.nodes))
	for _, n := range g.nodes {
		tasks = append(tasks, n.task)
	}
	sortTasks(tasks)
	return tasks
}

// Deps returns the keys of the tasks key depends on, sorted.
func (g *Graph) Deps(key string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[key]
	if !ok {
		return nil
	}
	return sortedKeys(n.deps)
}

// Dependents returns the keys of the tasks depending on key, sorted.
func (g *Graph) Dependents(key string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[key]
	if !ok {
		return nil
	}
	return sortedKeys(n.dependents)
}

// Downstream returns every task transitively depending on key, sorted.
func (g *Graph) Downstream(key string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	seen := make(map[string]*node)
	var walk func(n *node)
	walk = func(n *node) {
		for k, d := range n.dependents {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = d
			walk(d)
		}
	}
	if n, ok := g.nodes[key]; ok {
		walk(n)
	}
	return sortedKeys(seen)
}

// Chromosomes returns the chromosomes present in the graph in genome order.
func (g *Graph) Chromosomes() []genome.Chromosome {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	seen := make(map[genome.Chromosome]struct{})
	for _, n := range g.nodes {
		seen[n.task.ID.Chrom] = struct{}{}
	}
	out := make([]genome.Chromosome, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// DetectCycles checks the graph for any cycles using a depth-first search
// with temporary and permanent marks. The error wraps faults.ErrCyclicGraph.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(key string, n *node) error
	visit = func(key string, n *node) error {
		if permanent[key] {
			return nil
		}
		if temporary[key] {
			return faults.New(faults.ErrCyclicGraph, "cycle detected involving task %q", key)
		}
		temporary[key] = true
		for _, k := range sortedKeys(n.dependents) {
			if err := visit(k, n.dependents[k]); err != nil {
				return err
			}
		}
		delete(temporary, key)
		permanent[key] = true
		return nil
	}

	for _, key := range sortedKeys(g.nodes) {
		if err := visit(key, g.nodes[key]); err != nil {
			return err
		}
	}
	return nil
}

// TopoOrder returns task keys so that every task follows all of its
// dependencies. Ties are broken by key for a stable order.
func (g *Graph) TopoOrder() ([]string, error) {
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	g.mutex.RLock()
	defer g.mutex.RUnlock()

	indegree := make(map[string]int, len(g.nodes))
	var ready []string
	for key, n := range g.nodes {
		indegree[key] = len(n.deps)
		if len(n.deps) == 0 {
			ready = append(ready, key)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		key := ready[0]
		ready = ready[1:]
		order = append(order, key)

		var next []string
		for k := range g.nodes[key].dependents {
			indegree[k]--
			if indegree[k] == 0 {
				next = append(next, k)
			}
		}
		sort.Strings(next)
		ready = append(ready, next...)
	}
	return order, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortTasks(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i].ID, tasks[j].ID
		if a.Chrom != b.Chrom {
			return a.Chrom.Less(b.Chrom)
		}
		return a.Key() < b.Key()
	})
}
