package pipeline

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetforge/internal/config"
	taskerrors "github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/taskgraph"
)

// stubCompiler echoes the stylesheet, or fails with a transformation error
// while broken is set.
type stubCompiler struct {
	mu     sync.Mutex
	broken bool
}

func (c *stubCompiler) Compile(_ context.Context, path string) ([]byte, error) {
	c.mu.Lock()
	broken := c.broken
	c.mu.Unlock()
	if broken {
		return nil, taskerrors.NewTransformationError(TaskStyles, `expected "}"`, nil).WithLocation(path, 1, 4)
	}
	return os.ReadFile(path)
}

func (c *stubCompiler) setBroken(broken bool) {
	c.mu.Lock()
	c.broken = broken
	c.mu.Unlock()
}

type fixture struct {
	root     string
	cfg      *config.Config
	compiler *stubCompiler
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	v := viper.New()
	v.Set("paths.src", filepath.Join(root, "src"))
	v.Set("paths.dist", filepath.Join(root, "dist"))
	v.Set("server.proxy", "")
	v.Set("server.open", false)
	v.Set("server.port", 0)
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)

	f := &fixture{root: root, cfg: cfg, compiler: &stubCompiler{}}
	f.write(t, "src/scss/main.scss", "a { color: red }\n")
	f.write(t, "src/js/app.js", "console.log(\"app\");\n")
	f.write(t, "src/index.html", "<html><head></head><body>home</body></html>")
	f.write(t, "src/page.php", "<?php echo 1; ?>")
	f.write(t, "src/images/logo.png", "png")
	f.write(t, "src/bower_components/bootstrap-sass/assets/fonts/glyph.woff", "font")

	f.pipeline, err = New(cfg, WithStyleCompiler(f.compiler))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.pipeline.Close(ctx)
	})
	return f
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := f.path(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTaskDeclarations(t *testing.T) {
	f := newFixture(t)
	graph := f.pipeline.Graph()

	kinds := map[string]taskgraph.Kind{
		TaskStyles:     taskgraph.KindLeaf,
		TaskStylesDev:  taskgraph.KindLeaf,
		TaskMarkup:     taskgraph.KindLeaf,
		TaskTemplates:  taskgraph.KindLeaf,
		TaskScripts:    taskgraph.KindLeaf,
		TaskScriptsDev: taskgraph.KindLeaf,
		TaskFonts:      taskgraph.KindLeaf,
		TaskImages:     taskgraph.KindLeaf,
		TaskClean:      taskgraph.KindLeaf,
		TaskWatch:      taskgraph.KindLeaf,
		TaskVendor:     taskgraph.KindAggregate,
		TaskBuild:      taskgraph.KindAggregate,
		TaskServe:      taskgraph.KindTask,
		TaskDefault:    taskgraph.KindSequence,
	}
	for name, kind := range kinds {
		task, ok := graph.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, kind, task.Kind(), name)
	}
	assert.Len(t, graph.Tasks(), len(kinds))

	build, _ := graph.Lookup(TaskBuild)
	assert.ElementsMatch(t,
		[]string{TaskStyles, TaskMarkup, TaskTemplates, TaskScripts, TaskVendor, TaskImages},
		build.Deps)

	def, _ := graph.Lookup(TaskDefault)
	assert.Equal(t, [][]string{{TaskClean}, {TaskWatch, TaskBuild}, {TaskServe}}, def.Phases())
}

func TestBuildWritesEveryAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pipeline.Run(ctx, TaskBuild))
	assert.False(t, f.pipeline.Running())

	for _, rel := range []string{
		"dist/assets/css/main.min.css",
		"dist/assets/css/main.min.css.map",
		"dist/assets/js/main.min.js",
		"dist/assets/js/main.min.js.map",
		"dist/assets/fonts/glyph.woff",
		"dist/images/logo.png",
		"dist/index.html",
		"dist/page.php",
	} {
		assert.FileExists(t, f.path(rel))
	}
	assert.NoError(t, f.pipeline.Wait(ctx))
}

func TestCleanThenBuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "dist/stale.css", "old")

	require.NoError(t, f.pipeline.Run(ctx, TaskClean))
	assert.NoDirExists(t, f.path("dist"))

	require.NoError(t, f.pipeline.Run(ctx, TaskBuild))
	assert.NoFileExists(t, f.path("dist/stale.css"))
	assert.FileExists(t, f.path("dist/assets/css/main.min.css"))
}

func TestUnknownTask(t *testing.T) {
	f := newFixture(t)

	err := f.pipeline.Run(context.Background(), "deploy")
	var unknown *taskerrors.UnknownTaskError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "deploy", unknown.Name)
	assert.NoDirExists(t, f.path("dist"))
}

func TestWatchRuleForUnknownTask(t *testing.T) {
	root := t.TempDir()
	v := viper.New()
	v.Set("paths.src", filepath.Join(root, "src"))
	v.Set("paths.dist", filepath.Join(root, "dist"))
	v.Set("watch.rules", []map[string]interface{}{{"pattern": "docs/**/*.md", "task": "docs"}})
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)

	_, err = New(cfg)
	var unknown *taskerrors.UnknownTaskError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "docs", unknown.Name)
}

func TestWatchRunsMatchingTask(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.pipeline.Run(ctx, TaskWatch))
	assert.True(t, f.pipeline.Running())
	// A second start in the same session is a no-op.
	require.NoError(t, f.pipeline.Run(ctx, TaskWatch))

	f.write(t, "src/scss/theme.scss", "b { color: blue }\n")
	assert.Eventually(t, func() bool {
		_, err := os.Stat(f.path("dist/assets/css/main.min.css"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	f.write(t, "src/about.html", "<html><body>about</body></html>")
	assert.Eventually(t, func() bool {
		_, err := os.Stat(f.path("dist/about.html"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.NoFileExists(t, f.path("dist/assets/js/main.min.js"))
	assert.Equal(t, []string{TaskStyles}, f.pipeline.Dispatcher().Match(f.path("src/scss/_vars.scss")))
}

func TestStyleErrorsAreCollectedAndCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.compiler.setBroken(true)
	require.NoError(t, f.pipeline.Run(ctx, TaskStyles))
	require.True(t, f.pipeline.Collector().HasTask(TaskStyles))
	assert.NoFileExists(t, f.path("dist/assets/css/main.min.css"))

	f.compiler.setBroken(false)
	require.NoError(t, f.pipeline.Run(ctx, TaskStyles))
	assert.False(t, f.pipeline.Collector().HasErrors())
	assert.FileExists(t, f.path("dist/assets/css/main.min.css"))
}

func TestServeBuildsThenServes(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.pipeline.Run(ctx, TaskServe))
	url := f.pipeline.ServerURL()
	require.NotEmpty(t, url)

	resp, err := http.Get(url + "/index.html")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "home")
	assert.Contains(t, string(body), "/__assetforge/client.js")

	resp, err = http.Get(url + "/assets/css/main.min.css")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	done := make(chan error, 1)
	go func() { done <- f.pipeline.Wait(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
	assert.False(t, f.pipeline.Running())
	assert.Empty(t, f.pipeline.ServerURL())
}

func TestWaitWithoutServicesReturns(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.pipeline.Run(ctx, TaskFonts, TaskImages))
	assert.NoError(t, f.pipeline.Wait(ctx))
	assert.NoError(t, ctx.Err())
}

func TestSessionSurvivesScriptError(t *testing.T) {
	f := newFixture(t)
	f.write(t, "src/js/app.js", "function ( {\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.pipeline.Session(ctx, TaskDefault) }()

	assert.Eventually(t, func() bool {
		return f.pipeline.Collector().HasTask(TaskScripts)
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, f.pipeline.Watching())
	assert.Empty(t, f.pipeline.ServerURL())
	select {
	case err := <-done:
		t.Fatalf("session ended after a script error: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	f.write(t, "src/js/app.js", "console.log(\"fixed\");\n")
	assert.Eventually(t, func() bool {
		_, err := os.Stat(f.path("dist/assets/js/main.min.js"))
		return err == nil && !f.pipeline.Collector().HasErrors()
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after cancellation")
	}
	assert.False(t, f.pipeline.Running())
}

func TestSessionWithoutWatcherReturnsFailure(t *testing.T) {
	f := newFixture(t)
	f.write(t, "src/js/app.js", "function ( {\n")

	err := f.pipeline.Session(context.Background(), TaskBuild)
	var te *taskerrors.TransformationError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TaskScripts, te.Task)
	assert.False(t, f.pipeline.Running())
}

func TestSessionRejectsUnknownTask(t *testing.T) {
	f := newFixture(t)

	err := f.pipeline.Session(context.Background(), "deploy")
	var unknown *taskerrors.UnknownTaskError
	require.ErrorAs(t, err, &unknown)
	assert.False(t, f.pipeline.Running())
}
