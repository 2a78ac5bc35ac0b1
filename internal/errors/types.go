// Package errors defines the error taxonomy shared by the task graph, the
// asset transformations and the command line.
//
// Structural errors (unknown task, dependency cycle, duplicate task) are
// fatal to the invocation that raised them. Transformation errors describe
// bad input to a collaborator such as an invalid stylesheet; they are
// reported and logged but never stop a watch session.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeGraph     ErrorType = "graph"
	ErrorTypeTransform ErrorType = "transform"
)

// UnknownTaskError is returned when a task name is not registered.
type UnknownTaskError struct {
	Name string
	// RequiredBy is the task that declared the dependency, empty for roots.
	RequiredBy string
}

func (e *UnknownTaskError) Error() string {
	if e.RequiredBy != "" {
		return fmt.Sprintf("task %q is not registered (required by %q)", e.Name, e.RequiredBy)
	}
	return fmt.Sprintf("task %q is not registered", e.Name)
}

// Type returns the error category.
func (e *UnknownTaskError) Type() ErrorType { return ErrorTypeGraph }

// CyclicDependencyError is returned when resolving a task revisits a task
// that is still in progress on the same resolution path.
type CyclicDependencyError struct {
	// Path lists the cycle, starting and ending with the same task.
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic task dependency: " + strings.Join(e.Path, " -> ")
}

// Type returns the error category.
func (e *CyclicDependencyError) Type() ErrorType { return ErrorTypeGraph }

// DuplicateTaskError is returned when a task name is registered twice.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %q is already registered", e.Name)
}

// Type returns the error category.
func (e *DuplicateTaskError) Type() ErrorType { return ErrorTypeGraph }

// TaskFailedError wraps the failure of a task's action or of one of its
// dependencies.
type TaskFailedError struct {
	Task  string
	Cause error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *TaskFailedError) Unwrap() error {
	return e.Cause
}

// IsStructural reports whether err is a task graph error that must abort the
// whole invocation.
func IsStructural(err error) bool {
	var unknown *UnknownTaskError
	var cyclic *CyclicDependencyError
	var duplicate *DuplicateTaskError
	return errors.As(err, &unknown) || errors.As(err, &cyclic) || errors.As(err, &duplicate)
}

// IsTransformation reports whether err carries a TransformationError.
func IsTransformation(err error) bool {
	var te *TransformationError
	return errors.As(err, &te)
}

// FailedTask returns the innermost task name recorded in err, if any.
func FailedTask(err error) (string, bool) {
	name := ""
	for err != nil {
		var tf *TaskFailedError
		if !errors.As(err, &tf) {
			break
		}
		name = tf.Task
		err = tf.Cause
	}
	return name, name != ""
}
