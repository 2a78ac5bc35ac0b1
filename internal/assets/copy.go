package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/assetforge/internal/glob"
	"github.com/conneroisu/assetforge/internal/logging"
)

// CopySpec describes a glob-filtered copy from one tree into another.
type CopySpec struct {
	Src     string
	Pattern string
	Dst     string
	// Exclude lists directories under Src that are never copied.
	Exclude []string
}

// Copy returns an action copying every file matched by spec, keeping its
// path relative to spec.Src.
func (b *Builder) Copy(task string, spec CopySpec) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		perf := logging.StartOperation(b.logger.With("task", task), "copy")

		files, err := glob.Files(spec.Src, spec.Pattern, spec.Exclude...)
		if err != nil {
			perf.EndWithError(ctx, err)
			return err
		}

		written := make([]string, 0, len(files))
		for _, rel := range files {
			if err := ctx.Err(); err != nil {
				perf.EndWithError(ctx, err)
				return err
			}
			from := filepath.Join(spec.Src, filepath.FromSlash(rel))
			to := filepath.Join(spec.Dst, filepath.FromSlash(rel))
			if err := copyFile(from, to); err != nil {
				perf.EndWithError(ctx, err)
				return err
			}
			written = append(written, to)
		}

		perf.End(ctx)
		b.notify(ctx, written)
		return nil
	}
}

// Markup copies the HTML pages into the dist root.
func (b *Builder) Markup(task string) func(ctx context.Context) error {
	return b.Copy(task, b.pageSpec(b.config.Assets.MarkupGlob))
}

// Templates copies the PHP templates into the dist root.
func (b *Builder) Templates(task string) func(ctx context.Context) error {
	return b.Copy(task, b.pageSpec(b.config.Assets.TemplateGlob))
}

// Fonts copies the vendor UI kit fonts.
func (b *Builder) Fonts(task string) func(ctx context.Context) error {
	return b.Copy(task, CopySpec{
		Src:     b.config.Paths.Fonts,
		Pattern: b.config.Assets.FontGlob,
		Dst:     b.config.Paths.FontsOut,
	})
}

// Images copies the image files.
func (b *Builder) Images(task string) func(ctx context.Context) error {
	return b.Copy(task, CopySpec{
		Src:     b.config.Paths.Images,
		Pattern: b.config.Assets.ImageGlob,
		Dst:     b.config.Paths.ImagesOut,
	})
}

func (b *Builder) pageSpec(pattern string) CopySpec {
	return CopySpec{
		Src:     b.config.Paths.Src,
		Pattern: pattern,
		Dst:     b.config.Paths.Dist,
		Exclude: []string{b.config.Paths.Vendor, b.config.Paths.Dist},
	}
}

func copyFile(from, to string) error {
	info, err := os.Stat(from)
	if err != nil {
		return fmt.Errorf("reading %s: %w", from, err)
	}
	data, err := os.ReadFile(from)
	if err != nil {
		return fmt.Errorf("reading %s: %w", from, err)
	}
	return writeFile(to, data, info.Mode().Perm())
}

// Clean returns an action that removes the dist tree. It returns once the
// removal has completed.
func (b *Builder) Clean(task string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		dist := b.config.Paths.Dist
		b.logger.Info(ctx, "Removing output directory", "task", task, "path", dist)
		if err := os.RemoveAll(dist); err != nil {
			return fmt.Errorf("removing %s: %w", dist, err)
		}
		return nil
	}
}
