package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/assetforge/internal/glob"
	"github.com/conneroisu/assetforge/internal/logging"
)

// Runner executes a named task. The task graph satisfies it.
type Runner interface {
	Run(ctx context.Context, name string) error
}

// Rule binds a glob pattern to the task re-run when a matching file changes.
type Rule struct {
	Pattern string
	Task    string

	anchored string
}

// Dispatcher turns change events into task runs. Every matching event
// starts its own run; overlapping runs of the same task are not merged.
type Dispatcher struct {
	runner  Runner
	logger  logging.Logger
	rules   []Rule
	onError func(ctx context.Context, err error)
	mutex   sync.RWMutex
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher that runs tasks through runner.
func NewDispatcher(runner Runner, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	d := &Dispatcher{
		runner: runner,
		logger: logger.WithComponent("dispatcher"),
	}
	d.onError = func(ctx context.Context, err error) {
		d.logger.Error(ctx, err, "Watch-triggered run failed")
	}
	return d
}

// OnError replaces the callback receiving failed runs.
func (d *Dispatcher) OnError(fn func(ctx context.Context, err error)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onError = fn
}

// Watch registers a rule. The pattern is anchored at the current working
// directory when registered.
func (d *Dispatcher) Watch(pattern, task string) error {
	if err := glob.Validate(pattern); err != nil {
		return fmt.Errorf("watch rule for %q: %w", task, err)
	}
	if strings.TrimSpace(task) == "" {
		return fmt.Errorf("watch rule for %q: task name is required", pattern)
	}
	anchored, err := glob.Absolute(pattern)
	if err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.rules = append(d.rules, Rule{Pattern: pattern, Task: task, anchored: anchored})
	return nil
}

// Rules returns the registered rules in registration order.
func (d *Dispatcher) Rules() []Rule {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return append([]Rule(nil), d.rules...)
}

// Roots returns the directories that must be watched to see every file the
// rules can match. Nested roots are folded into their ancestors.
func (d *Dispatcher) Roots() []string {
	d.mutex.RLock()
	bases := make([]string, 0, len(d.rules))
	for _, rule := range d.rules {
		bases = append(bases, glob.Base(rule.Pattern))
	}
	d.mutex.RUnlock()

	sort.Strings(bases)
	roots := make([]string, 0, len(bases))
	for _, base := range bases {
		covered := false
		for _, root := range roots {
			if base == root || strings.HasPrefix(base, root+string(filepath.Separator)) || root == "." {
				covered = true
				break
			}
		}
		if !covered {
			roots = append(roots, base)
		}
	}
	return roots
}

// Match returns the tasks bound to path, without duplicates, in rule order.
func (d *Dispatcher) Match(path string) []string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}

	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var tasks []string
	seen := make(map[string]bool)
	for _, rule := range d.rules {
		if seen[rule.Task] || !glob.Match(rule.anchored, abs) {
			continue
		}
		seen[rule.Task] = true
		tasks = append(tasks, rule.Task)
	}
	return tasks
}

// Dispatch starts one run per task bound to each event and returns without
// waiting for them.
func (d *Dispatcher) Dispatch(ctx context.Context, events []ChangeEvent) {
	for _, event := range events {
		for _, task := range d.Match(event.Path) {
			d.logger.Info(ctx, "File changed",
				"path", event.Path,
				"event", event.Type.String(),
				"task", task)
			d.start(ctx, task)
		}
	}
}

// Handler adapts the dispatcher to a FileWatcher change handler.
func (d *Dispatcher) Handler(ctx context.Context) ChangeHandler {
	return func(events []ChangeEvent) error {
		d.Dispatch(ctx, events)
		return nil
	}
}

// Wait blocks until every run started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) start(ctx context.Context, task string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runner.Run(ctx, task); err != nil {
			d.mutex.RLock()
			onError := d.onError
			d.mutex.RUnlock()
			onError(ctx, err)
		}
	}()
}
