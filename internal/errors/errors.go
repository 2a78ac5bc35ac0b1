package errors

import (
	"fmt"
	"sync"
	"time"
)

// TransformationError represents bad input reported by an external
// transformation collaborator, e.g. invalid stylesheet syntax.
type TransformationError struct {
	Task      string
	File      string
	Line      int
	Column    int
	Message   string
	Cause     error
	Timestamp time.Time
}

// NewTransformationError creates a transformation error for task.
func NewTransformationError(task, message string, cause error) *TransformationError {
	return &TransformationError{
		Task:    task,
		Message: message,
		Cause:   cause,
	}
}

// WithLocation adds file location information.
func (te *TransformationError) WithLocation(file string, line, column int) *TransformationError {
	te.File = file
	te.Line = line
	te.Column = column
	return te
}

// Location returns file:line:column, omitting the parts that are unknown.
func (te *TransformationError) Location() string {
	if te.File == "" {
		return ""
	}
	location := te.File
	if te.Line > 0 {
		location += fmt.Sprintf(":%d", te.Line)
		if te.Column > 0 {
			location += fmt.Sprintf(":%d", te.Column)
		}
	}
	return location
}

// Error implements the error interface
func (te *TransformationError) Error() string {
	msg := te.Message
	if loc := te.Location(); loc != "" {
		msg = loc + ": " + msg
	}
	if te.Task != "" {
		msg = te.Task + ": " + msg
	}
	if te.Cause != nil {
		msg += fmt.Sprintf(": %v", te.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error.
func (te *TransformationError) Unwrap() error {
	return te.Cause
}

// Type returns the error category.
func (te *TransformationError) Type() ErrorType { return ErrorTypeTransform }

// Collector keeps the transformation errors of the most recent run of each
// task so the development server can show them.
type Collector struct {
	byTask map[string][]*TransformationError
	order  []string
	mutex  sync.RWMutex
}

// NewCollector creates a new error collector
func NewCollector() *Collector {
	return &Collector{
		byTask: make(map[string][]*TransformationError),
	}
}

// Add records err for its task.
func (c *Collector) Add(err *TransformationError) {
	if err == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now()
	}
	if _, ok := c.byTask[err.Task]; !ok {
		c.order = append(c.order, err.Task)
	}
	c.byTask[err.Task] = append(c.byTask[err.Task], err)
}

// ClearTask forgets the errors of task, typically after it succeeded.
func (c *Collector) ClearTask(task string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, ok := c.byTask[task]; !ok {
		return
	}
	delete(c.byTask, task)
	for i, name := range c.order {
		if name == task {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Errors returns a copy of all recorded errors in task registration order.
func (c *Collector) Errors() []*TransformationError {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	var result []*TransformationError
	for _, task := range c.order {
		result = append(result, c.byTask[task]...)
	}
	return result
}

// HasTask reports whether errors are recorded for task.
func (c *Collector) HasTask(task string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.byTask[task]
	return ok
}

// HasErrors returns true if there are any errors
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.order) > 0
}
