package errors

import (
	"context"
	"errors"
	"sync"
)

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// Notifier receives transformation errors, e.g. to show a browser overlay.
type Notifier interface {
	NotifyError(ctx context.Context, err *TransformationError)
}

// Handler routes errors to the log and, for transformation errors, to the
// notification channel.
type Handler struct {
	logger    Logger
	notifier  Notifier
	collector *Collector
	mutex     sync.RWMutex
}

// NewHandler creates a new error handler. notifier and collector may be nil.
func NewHandler(logger Logger, notifier Notifier, collector *Collector) *Handler {
	return &Handler{
		logger:    logger,
		notifier:  notifier,
		collector: collector,
	}
}

// SetNotifier replaces the notifier once the development server is up.
func (h *Handler) SetNotifier(notifier Notifier) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.notifier = notifier
}

// Handle logs err and forwards transformation errors to the notifier.
func (h *Handler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	var te *TransformationError
	if errors.As(err, &te) {
		if h.collector != nil {
			h.collector.Add(te)
		}
		if h.logger != nil {
			h.logger.Warn(ctx, err, "Transformation failed",
				"task", te.Task,
				"file", te.Location())
		}
		h.mutex.RLock()
		notifier := h.notifier
		h.mutex.RUnlock()
		if notifier != nil {
			notifier.NotifyError(ctx, te)
		}
		return
	}

	if h.logger == nil {
		return
	}
	if task, ok := FailedTask(err); ok {
		h.logger.Error(ctx, err, "Task failed", "task", task)
		return
	}
	h.logger.Error(ctx, err, "Error occurred")
}
