package assets

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/assetforge/internal/glob"
	"github.com/conneroisu/assetforge/internal/logging"
)

// segment records where one input starts inside the concatenated bundle.
type segment struct {
	path  string
	start int
	lines int
}

// Scripts returns the script bundle action. Inputs are the vendor scripts,
// the UI component scripts in their fixed order, then the application
// scripts sorted by path; each file is included once. Missing fixed inputs
// are skipped with a warning. Unless dev is set the bundle is minified.
// Syntax errors fail the task.
func (b *Builder) Scripts(task string, dev bool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		perf := logging.StartOperation(b.logger.With("task", task), "bundle scripts")

		inputs, err := b.scriptInputs(ctx)
		if err != nil {
			perf.EndWithError(ctx, err)
			return err
		}
		if len(inputs) == 0 {
			b.logger.Debug(ctx, "No scripts to bundle")
			perf.End(ctx)
			return nil
		}

		var js bytes.Buffer
		segments := make([]segment, 0, len(inputs))
		line := 1
		for _, input := range inputs {
			if err := ctx.Err(); err != nil {
				perf.EndWithError(ctx, err)
				return err
			}
			data, err := os.ReadFile(input)
			if err != nil {
				perf.EndWithError(ctx, err)
				return fmt.Errorf("reading %s: %w", input, err)
			}
			if len(data) == 0 || data[len(data)-1] != '\n' {
				data = append(data, '\n')
			}
			// A separator keeps files without trailing semicolons apart.
			data = append(data, ";\n"...)
			n := bytes.Count(data, []byte{'\n'})
			segments = append(segments, segment{path: input, start: line, lines: n})
			line += n
			js.Write(data)
		}

		bundle := b.config.Assets.ScriptBundle
		result := api.Transform(js.String(), api.TransformOptions{
			Loader:            api.LoaderJS,
			Sourcefile:        strings.TrimSuffix(bundle, ".min.js") + ".js",
			Sourcemap:         api.SourceMapExternal,
			MinifyWhitespace:  !dev,
			MinifyIdentifiers: !dev,
			MinifySyntax:      !dev,
			LegalComments:     api.LegalCommentsInline,
			LogLevel:          api.LogLevelSilent,
		})
		for _, warning := range result.Warnings {
			b.logger.Debug(ctx, "Script warning", "message", warning.Text)
		}
		if len(result.Errors) > 0 {
			te := messageError(task, result.Errors[0], locateSegment(segments))
			perf.EndWithError(ctx, te)
			return te
		}

		written, err := b.writeBundle(b.config.Paths.JSOut, bundle, result.Code, result.Map, "//# sourceMappingURL=%s\n")
		if err != nil {
			perf.EndWithError(ctx, err)
			return err
		}

		perf.End(ctx)
		b.notify(ctx, written)
		return nil
	}
}

// scriptInputs resolves the ordered, de-duplicated input list.
func (b *Builder) scriptInputs(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var inputs []string
	add := func(p string) {
		key, err := filepath.Abs(p)
		if err != nil {
			key = filepath.Clean(p)
		}
		if seen[key] {
			return
		}
		seen[key] = true
		inputs = append(inputs, p)
	}

	for _, fixed := range b.config.ScriptInputs() {
		info, err := os.Stat(fixed)
		if err != nil || !info.Mode().IsRegular() {
			b.logger.Warn(ctx, err, "Skipping missing script", "path", fixed)
			continue
		}
		add(fixed)
	}

	root := b.config.Paths.Scripts
	files, err := glob.Files(root, b.config.Assets.ScriptGlob)
	if err != nil {
		return nil, err
	}
	for _, rel := range files {
		add(filepath.Join(root, filepath.FromSlash(rel)))
	}
	return inputs, nil
}

// locateSegment maps a line of the concatenated bundle back to its input.
func locateSegment(segments []segment) func(line int) (string, int) {
	return func(line int) (string, int) {
		for _, s := range segments {
			if line >= s.start && line < s.start+s.lines {
				return s.path, line - s.start + 1
			}
		}
		return "", line
	}
}
