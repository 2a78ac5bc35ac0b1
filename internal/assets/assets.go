// Package assets implements the leaf actions of the build: style
// compilation, script bundling, glob-filtered copies and cleaning of the
// output tree.
//
// Every action is a plain func(ctx) error so it can be registered with the
// task graph. Transformations are delegated to external collaborators: the
// sass command compiles stylesheets and esbuild prefixes, minifies and
// writes sourcemaps. Outputs carry no timestamps, so re-running an action
// over unchanged input writes byte-identical files.
package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/logging"
)

// Notifier is told about every file an action wrote, e.g. to reload
// connected browsers.
type Notifier interface {
	Changed(ctx context.Context, paths []string)
}

// Reporter receives errors that must not fail the action, such as invalid
// stylesheet syntax during a watch session.
type Reporter interface {
	Handle(ctx context.Context, err error)
}

// Builder creates the asset actions for one configuration.
type Builder struct {
	config   *config.Config
	compiler StyleCompiler
	reporter Reporter
	engines  []api.Engine
	logger   logging.Logger

	notifier Notifier
	mutex    sync.RWMutex
}

// Option configures a Builder.
type Option func(*Builder)

// WithCompiler replaces the sass command used to compile stylesheets.
func WithCompiler(compiler StyleCompiler) Option {
	return func(b *Builder) { b.compiler = compiler }
}

// WithReporter sets where recoverable transformation errors go.
func WithReporter(reporter Reporter) Option {
	return func(b *Builder) { b.reporter = reporter }
}

// WithNotifier sets the initial change notifier.
func WithNotifier(notifier Notifier) Option {
	return func(b *Builder) { b.notifier = notifier }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// NewBuilder creates a Builder for cfg. It fails when the configured browser
// targets are not understood.
func NewBuilder(cfg *config.Config, opts ...Option) (*Builder, error) {
	engines, err := ParseTargets(cfg.Targets())
	if err != nil {
		return nil, err
	}

	b := &Builder{
		config:  cfg,
		engines: engines,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.compiler == nil {
		compiler, err := NewSassCompiler(cfg.Assets.SassCommand, cfg.Paths.Styles, cfg.Paths.Vendor)
		if err != nil {
			return nil, err
		}
		b.compiler = compiler
	}
	b.logger = b.logger.WithComponent("assets")
	if b.reporter == nil {
		b.reporter = logReporter{logger: b.logger}
	}
	return b, nil
}

// SetNotifier replaces the change notifier. It is safe to call while
// actions run.
func (b *Builder) SetNotifier(notifier Notifier) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.notifier = notifier
}

func (b *Builder) notify(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	b.mutex.RLock()
	notifier := b.notifier
	b.mutex.RUnlock()
	if notifier != nil {
		notifier.Changed(ctx, paths)
	}
}

type logReporter struct {
	logger logging.Logger
}

func (r logReporter) Handle(ctx context.Context, err error) {
	r.logger.Warn(ctx, err, "Transformation failed")
}

// writeFile writes data to path, creating parent directories.
func writeFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
