package main

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"clipster/internal/session"
)

const progressInterval = 250 * time.Millisecond

// renderer prints session snapshots as plain lines. State and connection
// changes are always printed; progress lines are throttled.
type renderer struct {
	out        io.Writer
	progress   rate.Sometimes
	state      session.State
	connection session.Connection
	warning    string
	percent    int
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:      out,
		progress: rate.Sometimes{Interval: progressInterval},
		percent:  -1,
	}
}

func (r *renderer) show(s session.Session) {
	if s.Connection != r.connection {
		r.connection = s.Connection
		fmt.Fprintf(r.out, "push channel: %s\n", s.Connection)
	}
	if s.Warning != "" && s.Warning != r.warning {
		fmt.Fprintf(r.out, "warning: %s\n", s.Warning)
	}
	r.warning = s.Warning

	if s.State != r.state {
		r.state = s.State
		fmt.Fprintf(r.out, "state: %s\n", s.State)
	}
	if s.State == session.StateInProgress && s.Progress != r.percent {
		r.percent = s.Progress
		r.progress.Do(func() {
			fmt.Fprintf(r.out, "progress: %3d%%\n", s.Progress)
		})
	}
}

func (r *renderer) info(s session.Session) {
	fmt.Fprintf(r.out, "platform: %s\n", s.Platform)
	if s.Metadata != nil && s.Metadata.Title != "" {
		fmt.Fprintf(r.out, "title: %s\n", s.Metadata.Title)
	}
	fmt.Fprintf(r.out, "qualities: %s\n", formatQualities(s.Qualities))
}

func (r *renderer) done(s session.Session) {
	fmt.Fprintf(r.out, "progress: %3d%%\n", s.Progress)
	fmt.Fprintf(r.out, "download url: %s\n", s.ResultDownloadURL)
	switch {
	case s.ArtifactPath != "":
		fmt.Fprintf(r.out, "saved to: %s\n", s.ArtifactPath)
	case s.RetrievalError != "":
		fmt.Fprintf(r.out, "not saved: %s\n", s.RetrievalError)
	}
}
