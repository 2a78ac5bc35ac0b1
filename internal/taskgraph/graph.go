// Package taskgraph runs named build tasks in dependency order.
//
// A Graph holds two kinds of composite nodes that are deliberately kept
// apart. A task with dependencies waits for all of them, in any order, with
// siblings running concurrently. A sequence runs ordered phases, and phase
// N+1 starts only once every task of phase N has completed. Each Run is one
// invocation: every task reachable from the root executes at most once in it,
// even when several dependents share it.
package taskgraph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	taskerrors "github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/logging"
)

// Action performs the work of a task and returns when it has settled.
// Asynchronous collaborators block until their completion signal arrives.
type Action func(ctx context.Context) error

// Kind distinguishes how a task is scheduled.
type Kind int

const (
	// KindLeaf has an action and no dependencies.
	KindLeaf Kind = iota
	// KindTask has dependencies and an action that runs after them.
	KindTask
	// KindAggregate has dependencies and no action of its own.
	KindAggregate
	// KindSequence runs ordered phases one after another.
	KindSequence
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindTask:
		return "task"
	case KindAggregate:
		return "aggregate"
	case KindSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Task is a named unit of work.
type Task struct {
	Name        string
	Description string
	// Deps must all complete successfully before Action runs.
	Deps   []string
	Action Action

	phases [][]string
}

// Kind reports how the task is scheduled.
func (t Task) Kind() Kind {
	switch {
	case t.phases != nil:
		return KindSequence
	case len(t.Deps) == 0:
		return KindLeaf
	case t.Action == nil:
		return KindAggregate
	default:
		return KindTask
	}
}

// Phases returns a copy of a sequence's phases, nil for other kinds.
func (t Task) Phases() [][]string {
	if t.phases == nil {
		return nil
	}
	phases := make([][]string, len(t.phases))
	for i, phase := range t.phases {
		phases[i] = append([]string(nil), phase...)
	}
	return phases
}

func (t *Task) clone() Task {
	c := *t
	c.Deps = append([]string(nil), t.Deps...)
	c.phases = t.Phases()
	return c
}

// edges returns every task name this task waits on.
func (t *Task) edges() []string {
	if t.phases == nil {
		return t.Deps
	}
	var names []string
	for _, phase := range t.phases {
		names = append(names, phase...)
	}
	return names
}

// Observer is notified when tasks start and finish. Callbacks run on the
// task's goroutine and must not block.
type Observer interface {
	TaskStarted(name string)
	TaskFinished(name string, err error)
}

// Graph is a registry of tasks. It is safe for concurrent use; tasks are
// registered once at startup and several invocations may run at the same
// time, for instance one per watch event.
type Graph struct {
	tasks     map[string]*Task
	observers []Observer
	logger    logging.Logger
	mutex     sync.RWMutex
}

// New creates an empty graph.
func New(logger logging.Logger) *Graph {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Graph{
		tasks:  make(map[string]*Task),
		logger: logger.WithComponent("taskgraph"),
	}
}

// AddObserver registers an observer for every subsequent invocation.
func (g *Graph) AddObserver(observer Observer) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.observers = append(g.observers, observer)
}

// Register adds a task. Dependencies may name tasks that are registered
// later, but a dependency list that leads back to the task itself is
// rejected with a CyclicDependencyError.
func (g *Graph) Register(task Task) error {
	if task.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if task.phases == nil && task.Action == nil && len(task.Deps) == 0 {
		return fmt.Errorf("task %q has neither an action nor dependencies", task.Name)
	}

	t := task
	t.Deps = append([]string(nil), task.Deps...)

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, exists := g.tasks[t.Name]; exists {
		return &taskerrors.DuplicateTaskError{Name: t.Name}
	}
	if path := g.findCycle(&t); path != nil {
		return &taskerrors.CyclicDependencyError{Path: path}
	}

	g.tasks[t.Name] = &t
	return nil
}

// Sequence registers a composite that runs phases strictly one after
// another. Tasks inside one phase run concurrently.
func (g *Graph) Sequence(name, description string, phases ...[]string) error {
	if len(phases) == 0 {
		return fmt.Errorf("sequence %q has no phases", name)
	}
	copied := make([][]string, 0, len(phases))
	for i, phase := range phases {
		if len(phase) == 0 {
			return fmt.Errorf("sequence %q: phase %d is empty", name, i+1)
		}
		copied = append(copied, append([]string(nil), phase...))
	}
	return g.Register(Task{Name: name, Description: description, phases: copied})
}

// findCycle reports the path from candidate back to itself through already
// registered tasks, or nil. Callers hold the write lock.
func (g *Graph) findCycle(candidate *Task) []string {
	visited := make(map[string]bool)
	var path []string

	var visit func(name string) bool
	visit = func(name string) bool {
		path = append(path, name)
		if name == candidate.Name && len(path) > 1 {
			return true
		}
		if visited[name] {
			path = path[:len(path)-1]
			return false
		}
		visited[name] = true

		task := candidate
		if name != candidate.Name {
			var ok bool
			if task, ok = g.tasks[name]; !ok {
				path = path[:len(path)-1]
				return false
			}
		}
		for _, dep := range task.edges() {
			if visit(dep) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if visit(candidate.Name) {
		return path
	}
	return nil
}

// Lookup returns a copy of the named task.
func (g *Graph) Lookup(name string) (Task, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	task, ok := g.tasks[name]
	if !ok {
		return Task{}, false
	}
	return task.clone(), true
}

// Tasks returns all registered tasks sorted by name.
func (g *Graph) Tasks() []Task {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	tasks := make([]Task, 0, len(g.tasks))
	for _, task := range g.tasks {
		tasks = append(tasks, task.clone())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}

// Has reports whether name is registered.
func (g *Graph) Has(name string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.tasks[name]
	return ok
}

// validate resolves the closure of roots before anything runs. It fails
// with UnknownTaskError or CyclicDependencyError.
func (g *Graph) validate(roots []string) (map[string]*Task, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	resolved := make(map[string]*Task)
	onPath := make(map[string]bool)
	var path []string

	var visit func(name, requiredBy string) error
	visit = func(name, requiredBy string) error {
		if onPath[name] {
			cycle := []string{name}
			for i := len(path) - 1; i >= 0; i-- {
				cycle = append([]string{path[i]}, cycle...)
				if path[i] == name {
					break
				}
			}
			return &taskerrors.CyclicDependencyError{Path: cycle}
		}
		if _, done := resolved[name]; done {
			return nil
		}
		task, ok := g.tasks[name]
		if !ok {
			return &taskerrors.UnknownTaskError{Name: name, RequiredBy: requiredBy}
		}

		onPath[name] = true
		path = append(path, name)
		for _, dep := range task.edges() {
			if err := visit(dep, name); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		onPath[name] = false

		resolved[name] = task
		return nil
	}

	for _, root := range roots {
		if err := visit(root, ""); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func (g *Graph) snapshotObservers() []Observer {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return append([]Observer(nil), g.observers...)
}
