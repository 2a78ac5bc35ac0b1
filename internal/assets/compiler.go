package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	taskerrors "github.com/conneroisu/assetforge/internal/errors"
)

// StyleCompiler turns one stylesheet source file into plain CSS.
// Invalid input is reported as a *errors.TransformationError.
type StyleCompiler interface {
	Compile(ctx context.Context, path string) ([]byte, error)
}

// SassCompiler runs the dart-sass command line.
type SassCompiler struct {
	command   string
	args      []string
	loadPaths []string
}

// NewSassCompiler creates a compiler from a command line such as "sass" or
// "npx sass". loadPaths are searched for @import and @use.
func NewSassCompiler(commandLine string, loadPaths ...string) (*SassCompiler, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("sass command is empty")
	}
	sc := &SassCompiler{
		command:   fields[0],
		args:      fields[1:],
		loadPaths: loadPaths,
	}
	if err := sc.validateCommand(); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}
	return sc, nil
}

// Compile compiles path and returns the expanded CSS. Minification happens
// later, on the concatenated bundle.
func (sc *SassCompiler) Compile(ctx context.Context, path string) ([]byte, error) {
	args := make([]string, 0, len(sc.args)+len(sc.loadPaths)+3)
	args = append(args, sc.args...)
	args = append(args, "--no-source-map", "--style=expanded")
	for _, loadPath := range sc.loadPaths {
		args = append(args, "--load-path="+loadPath)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, sc.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sass %s: %w", path, ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running %s: %w", sc.command, err)
		}
		te := taskerrors.ParseCompilerOutput("", stderr.String(), err)
		if te.File == "" {
			te.File = path
		}
		return nil, te
	}

	return stdout.Bytes(), nil
}

// validateCommand rejects shell metacharacters; the command is executed
// directly, never through a shell.
func (sc *SassCompiler) validateCommand() error {
	for _, part := range append([]string{sc.command}, sc.args...) {
		if strings.ContainsAny(part, ";&|$`<>\"'\n") {
			return fmt.Errorf("invalid argument '%s': contains shell metacharacters", part)
		}
	}
	return nil
}
