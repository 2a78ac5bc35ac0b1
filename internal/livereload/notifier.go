package livereload

import (
	"context"
	"path/filepath"
	"strings"

	taskerrors "github.com/conneroisu/assetforge/internal/errors"
)

// Notifier translates build events into browser messages. A changed set made
// only of stylesheets is swapped in place; a page or script reloads the
// page. Fonts, images and sourcemaps are not announced.
type Notifier struct {
	hub       *Hub
	collector *taskerrors.Collector
	// overlay controls whether build errors are shown in the browser.
	overlay bool
}

// reloadExts are the outputs that need a full page reload.
var reloadExts = map[string]bool{
	".html": true,
	".htm":  true,
	".php":  true,
	".js":   true,
}

// NewNotifier creates a notifier broadcasting on hub. collector supplies the
// full error list for the overlay and may be nil.
func NewNotifier(hub *Hub, collector *taskerrors.Collector, overlay bool) *Notifier {
	return &Notifier{hub: hub, collector: collector, overlay: overlay}
}

// Changed reports written files.
func (n *Notifier) Changed(_ context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}

	var stylesheets []string
	for _, p := range paths {
		ext := strings.ToLower(filepath.Ext(p))
		switch {
		case ext == ".css":
			stylesheets = append(stylesheets, filepath.ToSlash(filepath.Base(p)))
		case reloadExts[ext]:
			n.hub.Broadcast(Message{Type: MessageReload})
			return
		}
	}
	if len(stylesheets) == 0 {
		return
	}
	n.hub.Broadcast(Message{Type: MessageCSS, Paths: stylesheets})
}

// NotifyError shows the error overlay.
func (n *Notifier) NotifyError(ctx context.Context, err *taskerrors.TransformationError) {
	if !n.overlay || err == nil {
		return
	}
	errs := []*taskerrors.TransformationError{err}
	if n.collector != nil && n.collector.HasErrors() {
		errs = n.collector.Errors()
	}
	html, renderErr := renderOverlay(ctx, errs)
	if renderErr != nil {
		n.hub.logger.Error(ctx, renderErr, "Failed to render error overlay")
		return
	}
	n.hub.Broadcast(Message{Type: MessageError, HTML: html})
}

// Clear hides the error overlay.
func (n *Notifier) Clear(_ context.Context) {
	if !n.overlay {
		return
	}
	n.hub.Broadcast(Message{Type: MessageClear})
}
