// Package templates renders the HTML fragments swapped in by HTMX clients.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/scansplit/internal/core"
	"github.com/JonMunkholm/scansplit/internal/events"
)

// RecentEvents is the number of events shown in a session fragment.
const RecentEvents = 20

// ErrorAlert renders an inline error box.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div class="alert alert-error" role="alert">`)
		fmt.Fprintf(&b, `<p class="alert-message">%s</p>`, templ.EscapeString(message))
		if action != "" {
			fmt.Fprintf(&b, `<p class="alert-action">%s</p>`, templ.EscapeString(action))
		}
		fmt.Fprintf(&b, `<p class="alert-code">Code: %s</p>`, templ.EscapeString(code))
		b.WriteString(`</div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// SessionStatus renders the status panel of a session: its state, the
// completed uploads and the most recent events.
func SessionStatus(v core.SessionView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		fmt.Fprintf(&b, `<section class="session" id="session-%s" data-status="%s">`,
			templ.EscapeString(v.ID), templ.EscapeString(string(v.Status)))
		fmt.Fprintf(&b, `<h2>Client %s</h2>`, templ.EscapeString(v.Meta.DefaultClient()))
		fmt.Fprintf(&b, `<p class="status status-%s">%s</p>`,
			templ.EscapeString(string(v.Status)), templ.EscapeString(statusLabel(v.Status)))

		b.WriteString(`<ul class="uploads">`)
		for _, u := range v.Uploads {
			fmt.Fprintf(&b, `<li>%s <span class="size">%d bytes</span></li>`, templ.EscapeString(u.Name), u.Size)
		}
		b.WriteString(`</ul>`)

		evts := v.Events
		if len(evts) > RecentEvents {
			evts = evts[len(evts)-RecentEvents:]
		}
		b.WriteString(`<ol class="events">`)
		for _, e := range evts {
			fmt.Fprintf(&b, `<li class="event event-%s" value="%d"><time>%s</time> %s</li>`,
				templ.EscapeString(string(e.Level)), e.Index,
				e.Time.UTC().Format("15:04:05"), templ.EscapeString(e.Message))
		}
		b.WriteString(`</ol></section>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func statusLabel(s events.Status) string {
	switch s {
	case events.StatusCreated:
		return "Waiting for processing"
	case events.StatusRunning:
		return "Processing"
	case events.StatusDone:
		return "Done"
	case events.StatusError:
		return "Failed"
	}
	return "Unknown"
}
