// Package pipeline declares the concrete asset build: it registers the leaf
// actions, the aggregates and the default sequence on a task graph, binds
// source globs to the tasks they re-run, and owns the long-running watch and
// server services started by those tasks.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conneroisu/assetforge/internal/assets"
	"github.com/conneroisu/assetforge/internal/config"
	taskerrors "github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/glob"
	"github.com/conneroisu/assetforge/internal/livereload"
	"github.com/conneroisu/assetforge/internal/logging"
	"github.com/conneroisu/assetforge/internal/taskgraph"
	"github.com/conneroisu/assetforge/internal/watcher"
)

// Task names.
const (
	TaskStyles     = "styles"
	TaskStylesDev  = "styles:dev"
	TaskMarkup     = "markup"
	TaskTemplates  = "templates"
	TaskScripts    = "scripts"
	TaskScriptsDev = "scripts:dev"
	TaskFonts      = "fonts"
	TaskImages     = "images"
	TaskVendor     = "vendor"
	TaskBuild      = "build"
	TaskClean      = "clean"
	TaskWatch      = "watch"
	TaskServe      = "serve"
	TaskDefault    = "default"
)

// shutdownTimeout bounds how long Wait gives services to stop.
const shutdownTimeout = 5 * time.Second

// Pipeline is the configured build.
type Pipeline struct {
	config     *config.Config
	logger     logging.Logger
	graph      *taskgraph.Graph
	builder    *assets.Builder
	collector  *taskerrors.Collector
	errors     *taskerrors.Handler
	dispatcher *watcher.Dispatcher
	hub        *livereload.Hub
	notifier   *livereload.Notifier

	compiler assets.StyleCompiler

	mutex       sync.Mutex
	fileWatcher *watcher.FileWatcher
	server      *livereload.Server
	live        bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithStyleCompiler replaces the sass command.
func WithStyleCompiler(compiler assets.StyleCompiler) Option {
	return func(p *Pipeline) { p.compiler = compiler }
}

// New builds the task graph and watch rules for cfg.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		config:    cfg,
		logger:    logging.Discard(),
		collector: taskerrors.NewCollector(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.errors = taskerrors.NewHandler(p.logger.WithComponent("errors"), nil, p.collector)
	p.graph = taskgraph.New(p.logger)
	p.hub = livereload.NewHub(p.logger)
	p.notifier = livereload.NewNotifier(p.hub, p.collector, cfg.Server.Notify)

	builderOpts := []assets.Option{
		assets.WithLogger(p.logger),
		assets.WithReporter(p.errors),
	}
	if p.compiler != nil {
		builderOpts = append(builderOpts, assets.WithCompiler(p.compiler))
	}
	builder, err := assets.NewBuilder(cfg, builderOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating asset builder: %w", err)
	}
	p.builder = builder

	if err := p.register(); err != nil {
		return nil, err
	}

	p.dispatcher = watcher.NewDispatcher(p.graph, p.logger)
	p.dispatcher.OnError(p.errors.Handle)
	if err := p.bindWatchRules(); err != nil {
		return nil, err
	}

	p.graph.AddObserver(newRecoveryObserver(p))
	return p, nil
}

// register declares every task.
func (p *Pipeline) register() error {
	b := p.builder
	tasks := []taskgraph.Task{
		{Name: TaskStyles, Description: "Compile, prefix and minify stylesheets", Action: b.Styles(TaskStyles, false)},
		{Name: TaskStylesDev, Description: "Compile and prefix stylesheets without minifying", Action: b.Styles(TaskStylesDev, true)},
		{Name: TaskMarkup, Description: "Copy HTML pages", Action: b.Markup(TaskMarkup)},
		{Name: TaskTemplates, Description: "Copy PHP templates", Action: b.Templates(TaskTemplates)},
		{Name: TaskScripts, Description: "Concatenate and minify scripts", Action: b.Scripts(TaskScripts, false)},
		{Name: TaskScriptsDev, Description: "Concatenate scripts without minifying", Action: b.Scripts(TaskScriptsDev, true)},
		{Name: TaskFonts, Description: "Copy UI kit fonts", Action: b.Fonts(TaskFonts)},
		{Name: TaskImages, Description: "Copy images", Action: b.Images(TaskImages)},
		{Name: TaskClean, Description: "Remove the output directory", Action: b.Clean(TaskClean)},
		{Name: TaskWatch, Description: "Re-run tasks when sources change", Action: p.startWatch},
		{Name: TaskVendor, Description: "Copy vendor assets", Deps: []string{TaskFonts}},
		{
			Name:        TaskBuild,
			Description: "Build every asset",
			Deps:        []string{TaskStyles, TaskMarkup, TaskTemplates, TaskScripts, TaskVendor, TaskImages},
		},
		{Name: TaskServe, Description: "Build, then start the live reload server", Deps: []string{TaskBuild}, Action: p.startServer},
	}
	for _, task := range tasks {
		if err := p.graph.Register(task); err != nil {
			return err
		}
	}

	return p.graph.Sequence(TaskDefault, "Clean, then watch and build, then serve",
		[]string{TaskClean},
		[]string{TaskWatch, TaskBuild},
		[]string{TaskServe},
	)
}

// bindWatchRules installs the built-in rules followed by the configured
// ones.
func (p *Pipeline) bindWatchRules() error {
	paths, a := p.config.Paths, p.config.Assets
	rules := []config.WatchRule{
		{Pattern: glob.Join(paths.Styles, a.StyleGlob), Task: TaskStyles},
		{Pattern: glob.Join(paths.Src, a.MarkupGlob), Task: TaskMarkup},
		{Pattern: glob.Join(paths.Src, a.TemplateGlob), Task: TaskTemplates},
		{Pattern: glob.Join(paths.Scripts, a.ScriptGlob), Task: TaskScripts},
		{Pattern: glob.Join(paths.Images, a.ImageGlob), Task: TaskImages},
	}
	rules = append(rules, p.config.WatchRules()...)

	for _, rule := range rules {
		if !p.graph.Has(rule.Task) {
			return fmt.Errorf("watch rule %q: %w", rule.Pattern, &taskerrors.UnknownTaskError{Name: rule.Task})
		}
		if err := p.dispatcher.Watch(rule.Pattern, rule.Task); err != nil {
			return err
		}
	}
	return nil
}

// Graph returns the task graph.
func (p *Pipeline) Graph() *taskgraph.Graph {
	return p.graph
}

// Dispatcher returns the watch dispatcher.
func (p *Pipeline) Dispatcher() *watcher.Dispatcher {
	return p.dispatcher
}

// Collector returns the outstanding transformation errors.
func (p *Pipeline) Collector() *taskerrors.Collector {
	return p.collector
}

// Run executes the named tasks in one invocation.
func (p *Pipeline) Run(ctx context.Context, names ...string) error {
	return p.graph.RunAll(ctx, names...)
}

// Session runs names and then keeps the started services alive until ctx
// is done. Once the watcher is running, a failed action is reported and the
// session goes on so that fixing the source triggers another run. Structural
// errors and failures without a watcher end the session.
func (p *Pipeline) Session(ctx context.Context, names ...string) error {
	if err := p.graph.RunAllSettled(ctx, names...); err != nil {
		if taskerrors.IsStructural(err) || !p.Watching() || ctx.Err() != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			p.Close(closeCtx)
			return err
		}
		p.errors.Handle(ctx, err)
		p.logger.Warn(ctx, nil, "Build failed, still watching for changes")
	}
	return p.Wait(ctx)
}

// Watching reports whether the watch task started in this session.
func (p *Pipeline) Watching() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.fileWatcher != nil
}

// Running reports whether a watch session or the server was started.
func (p *Pipeline) Running() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.fileWatcher != nil || p.server != nil
}

// ServerURL returns the address of the running server, or "" if none.
func (p *Pipeline) ServerURL() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.server == nil {
		return ""
	}
	return p.server.URL()
}

// Wait blocks until ctx is done when services are running, then stops
// them. Without services it returns immediately.
func (p *Pipeline) Wait(ctx context.Context) error {
	if !p.Running() {
		return nil
	}
	<-ctx.Done()
	p.logger.Info(context.Background(), "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return p.Close(shutdownCtx)
}

// Close stops the watcher and the server and waits for in-flight watch
// runs.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mutex.Lock()
	fw, server := p.fileWatcher, p.server
	p.fileWatcher, p.server = nil, nil
	p.mutex.Unlock()

	var firstErr error
	if fw != nil {
		if err := fw.Stop(); err != nil {
			firstErr = err
		}
	}
	if server != nil {
		if err := server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		p.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if firstErr == nil {
			firstErr = ctx.Err()
		}
	}
	return firstErr
}

// startWatch subscribes to the rule roots. Triggered runs use ctx, so
// cancelling it ends the session.
func (p *Pipeline) startWatch(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.fileWatcher != nil {
		return nil
	}

	fw, err := watcher.NewFileWatcher(p.config.Watch.Debounce, p.logger)
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	fw.AddFilter(watcher.NoDirFilter(p.config.Paths.Dist))
	if len(p.config.Watch.Ignore) > 0 {
		ignore, err := watcher.IgnoreFilter(p.config.Watch.Ignore...)
		if err != nil {
			fw.Stop()
			return err
		}
		fw.AddFilter(ignore)
	}
	fw.AddHandler(p.dispatcher.Handler(ctx))

	roots := p.dispatcher.Roots()
	for _, root := range roots {
		if err := fw.AddRecursive(root); err != nil {
			fw.Stop()
			return fmt.Errorf("watching %s: %w", root, err)
		}
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return err
	}

	p.fileWatcher = fw
	p.logger.Info(ctx, "Watching for changes", "roots", roots, "rules", len(p.dispatcher.Rules()))
	return nil
}

// startServer binds the live reload server and routes build notifications
// to it.
func (p *Pipeline) startServer(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.server != nil {
		return nil
	}

	server, err := livereload.New(p.config, p.hub, p.collector, p.logger)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	p.server = server
	p.live = true
	p.builder.SetNotifier(p.notifier)
	p.errors.SetNotifier(p.notifier)
	return nil
}

// liveNotifier returns the notifier once the server is up.
func (p *Pipeline) liveNotifier() *livereload.Notifier {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.live {
		return nil
	}
	return p.notifier
}

// recoveryObserver forgets a task's old transformation errors when it runs
// again and hides the browser overlay once no errors remain.
type recoveryObserver struct {
	pipeline   *Pipeline
	recovering map[string]bool
	mutex      sync.Mutex
}

func newRecoveryObserver(p *Pipeline) *recoveryObserver {
	return &recoveryObserver{pipeline: p, recovering: make(map[string]bool)}
}

func (o *recoveryObserver) TaskStarted(name string) {
	collector := o.pipeline.collector
	if !collector.HasTask(name) {
		return
	}
	o.mutex.Lock()
	o.recovering[name] = true
	o.mutex.Unlock()
	collector.ClearTask(name)
}

func (o *recoveryObserver) TaskFinished(name string, err error) {
	o.mutex.Lock()
	recovering := o.recovering[name]
	delete(o.recovering, name)
	o.mutex.Unlock()

	if !recovering || err != nil || o.pipeline.collector.HasErrors() {
		return
	}
	if notifier := o.pipeline.liveNotifier(); notifier != nil {
		notifier.Clear(context.Background())
	}
}
