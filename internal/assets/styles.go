package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	taskerrors "github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/glob"
	"github.com/conneroisu/assetforge/internal/logging"
)

// Styles returns the stylesheet action. Every non-partial source file under
// the styles root is compiled, the results are concatenated in path order,
// then prefixed for the browser targets and, unless dev is set, minified.
//
// Invalid stylesheets are reported and the action still succeeds, leaving
// the previous bundle in place, so a watch session survives typos.
func (b *Builder) Styles(task string, dev bool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		perf := logging.StartOperation(b.logger.With("task", task), "compile styles")

		sources, err := b.styleSources()
		if err != nil {
			perf.EndWithError(ctx, err)
			return err
		}
		if len(sources) == 0 {
			b.logger.Debug(ctx, "No stylesheets to compile", "root", b.config.Paths.Styles)
			perf.End(ctx)
			return nil
		}

		var css bytes.Buffer
		failed := false
		for _, source := range sources {
			out, err := b.compiler.Compile(ctx, source)
			if err != nil {
				var te *taskerrors.TransformationError
				if !errors.As(err, &te) {
					perf.EndWithError(ctx, err)
					return fmt.Errorf("compiling %s: %w", source, err)
				}
				te.Task = task
				b.reporter.Handle(ctx, te)
				failed = true
				continue
			}
			css.Write(out)
			if len(out) > 0 && out[len(out)-1] != '\n' {
				css.WriteByte('\n')
			}
		}
		if failed {
			perf.End(ctx)
			return nil
		}

		bundle := b.config.Assets.StyleBundle
		result := api.Transform(css.String(), api.TransformOptions{
			Loader:           api.LoaderCSS,
			Sourcefile:       strings.TrimSuffix(bundle, ".min.css") + ".css",
			Sourcemap:        api.SourceMapExternal,
			Engines:          b.engines,
			MinifyWhitespace: !dev,
			MinifySyntax:     !dev,
			LogLevel:         api.LogLevelSilent,
		})
		for _, warning := range result.Warnings {
			b.logger.Debug(ctx, "Style warning", "message", warning.Text)
		}
		if len(result.Errors) > 0 {
			te := messageError(task, result.Errors[0], nil)
			b.reporter.Handle(ctx, te)
			perf.End(ctx)
			return nil
		}

		written, err := b.writeBundle(b.config.Paths.CSSOut, bundle, result.Code, result.Map, "/*# sourceMappingURL=%s */\n")
		if err != nil {
			perf.EndWithError(ctx, err)
			return err
		}

		perf.End(ctx)
		b.notify(ctx, written)
		return nil
	}
}

// styleSources lists the stylesheets to compile, skipping partials.
func (b *Builder) styleSources() ([]string, error) {
	root := b.config.Paths.Styles
	files, err := glob.Files(root, b.config.Assets.StyleGlob)
	if err != nil {
		return nil, err
	}
	sources := make([]string, 0, len(files))
	for _, rel := range files {
		if strings.HasPrefix(path.Base(rel), "_") {
			continue
		}
		sources = append(sources, filepath.Join(root, filepath.FromSlash(rel)))
	}
	return sources, nil
}

// writeBundle writes code plus a linked sourcemap and returns both paths.
func (b *Builder) writeBundle(dir, name string, code, sourcemap []byte, linkFormat string) ([]string, error) {
	bundlePath := filepath.Join(dir, name)
	mapName := name + ".map"
	mapPath := filepath.Join(dir, mapName)

	out := make([]byte, 0, len(code)+len(mapName)+32)
	out = append(out, code...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	out = append(out, fmt.Sprintf(linkFormat, mapName)...)

	if err := writeFile(bundlePath, out, 0o644); err != nil {
		return nil, err
	}
	if err := writeFile(mapPath, sourcemap, 0o644); err != nil {
		return nil, err
	}
	return []string{bundlePath, mapPath}, nil
}

// messageError converts an esbuild diagnostic into a TransformationError.
func messageError(task string, msg api.Message, locate func(line int) (string, int)) *taskerrors.TransformationError {
	te := taskerrors.NewTransformationError(task, msg.Text, nil)
	if msg.Location == nil {
		return te
	}
	file, line := msg.Location.File, msg.Location.Line
	if locate != nil {
		file, line = locate(line)
	}
	return te.WithLocation(file, line, msg.Location.Column+1)
}
