package taskgraph

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	taskerrors "github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/logging"
)

// invocation memoizes the futures of one Run so every task executes at most
// once in it.
type invocation struct {
	graph     *Graph
	tasks     map[string]*Task
	observers []Observer
	futures   map[string]*Future
	pending   sync.WaitGroup
	mutex     sync.Mutex
}

// Run executes name after all of its transitive dependencies. Structural
// problems are reported before any action starts.
func (g *Graph) Run(ctx context.Context, name string) error {
	return g.RunAll(ctx, name)
}

// RunAll executes several roots inside a single invocation. Roots run
// concurrently and share the tasks they have in common.
func (g *Graph) RunAll(ctx context.Context, names ...string) error {
	inv, futures, err := g.begin(ctx, names)
	if err != nil || inv == nil {
		return err
	}
	return waitAll(ctx, futures)
}

// RunAllSettled is RunAll that, after a failure, also waits for every task
// the invocation already launched. Actions started alongside the failing
// one have finished when it returns.
func (g *Graph) RunAllSettled(ctx context.Context, names ...string) error {
	inv, futures, err := g.begin(ctx, names)
	if err != nil || inv == nil {
		return err
	}
	err = waitAll(ctx, futures)
	inv.pending.Wait()
	return err
}

// begin validates names and launches their futures.
func (g *Graph) begin(ctx context.Context, names []string) (*invocation, []*Future, error) {
	if len(names) == 0 {
		return nil, nil, nil
	}
	tasks, err := g.validate(names)
	if err != nil {
		return nil, nil, err
	}

	inv := &invocation{
		graph:     g,
		tasks:     tasks,
		observers: g.snapshotObservers(),
		futures:   make(map[string]*Future, len(tasks)),
	}

	futures := make([]*Future, len(names))
	for i, name := range names {
		futures[i] = inv.start(ctx, name)
	}
	return inv, futures, nil
}

// start returns the future of name, launching the task on first use.
func (inv *invocation) start(ctx context.Context, name string) *Future {
	inv.mutex.Lock()
	if f, ok := inv.futures[name]; ok {
		inv.mutex.Unlock()
		return f
	}
	f := newFuture(name)
	inv.futures[name] = f
	inv.pending.Add(1)
	inv.mutex.Unlock()

	go func() {
		defer inv.pending.Done()
		f.resolve(inv.execute(ctx, inv.tasks[name]))
	}()
	return f
}

func (inv *invocation) execute(ctx context.Context, task *Task) error {
	if task.phases != nil {
		return inv.executeSequence(ctx, task)
	}

	if len(task.Deps) > 0 {
		deps := make([]*Future, len(task.Deps))
		for i, dep := range task.Deps {
			deps[i] = inv.start(ctx, dep)
		}
		if err := waitAll(ctx, deps); err != nil {
			inv.graph.logger.Debug(ctx, "Skipping task after dependency failure", "task", task.Name)
			return &taskerrors.TaskFailedError{Task: task.Name, Cause: err}
		}
	}

	if task.Action == nil {
		return nil
	}
	return inv.runAction(ctx, task)
}

func (inv *invocation) executeSequence(ctx context.Context, task *Task) error {
	for i, phase := range task.phases {
		inv.graph.logger.Debug(ctx, "Starting phase", "sequence", task.Name, "phase", i+1, "tasks", phase)
		futures := make([]*Future, len(phase))
		for j, name := range phase {
			futures[j] = inv.start(ctx, name)
		}
		if err := waitAll(ctx, futures); err != nil {
			return &taskerrors.TaskFailedError{Task: task.Name, Cause: err}
		}
	}
	return nil
}

func (inv *invocation) runAction(ctx context.Context, task *Task) (err error) {
	if err := ctx.Err(); err != nil {
		return &taskerrors.TaskFailedError{Task: task.Name, Cause: err}
	}

	for _, o := range inv.observers {
		o.TaskStarted(task.Name)
	}
	op := logging.StartOperation(inv.graph.logger.With("task", task.Name), "task")
	inv.graph.logger.Info(ctx, "Starting task", "task", task.Name)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &taskerrors.TaskFailedError{Task: task.Name, Cause: err}
			op.EndWithError(ctx, err)
		} else {
			op.End(ctx)
		}
		for _, o := range inv.observers {
			o.TaskFinished(task.Name, err)
		}
	}()

	return task.Action(ctx)
}

// waitAll waits for every future and returns the first failure as soon as
// it happens. Futures that are still running are left to finish on their
// own; nothing is cancelled.
func waitAll(ctx context.Context, futures []*Future) error {
	if len(futures) == 1 {
		return futures[0].Wait(ctx)
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, f := range futures {
		f := f
		group.Go(func() error {
			select {
			case <-f.Done():
				return f.Err()
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		})
	}
	return group.Wait()
}
