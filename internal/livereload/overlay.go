package livereload

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	taskerrors "github.com/conneroisu/assetforge/internal/errors"
)

// errorOverlay renders the build error panel shown over the page.
func errorOverlay(errs []*taskerrors.TransformationError) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<div class="assetforge-overlay" role="alert">`+
			`<div class="assetforge-overlay__title">Build failed</div>`); err != nil {
			return err
		}
		for _, e := range errs {
			if err := errorEntry(e).Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</div>`)
		return err
	})
}

func errorEntry(e *taskerrors.TransformationError) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		location := e.Location()
		if location == "" {
			location = e.Task
		}
		_, err := fmt.Fprintf(w,
			`<section class="assetforge-overlay__error">`+
				`<div class="assetforge-overlay__task">%s</div>`+
				`<div class="assetforge-overlay__location">%s</div>`+
				`<pre class="assetforge-overlay__message">%s</pre>`+
				`</section>`,
			templ.EscapeString(e.Task),
			templ.EscapeString(location),
			templ.EscapeString(e.Message))
		return err
	})
}

// renderOverlay returns the overlay markup for errs.
func renderOverlay(ctx context.Context, errs []*taskerrors.TransformationError) (string, error) {
	var buf bytes.Buffer
	if err := errorOverlay(errs).Render(ctx, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
