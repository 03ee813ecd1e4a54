package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/tasks"
)

// Progress prints engine progress updates as styled lines.
type Progress struct {
	w       io.Writer
	palette *Palette
	quiet   bool
}

// NewProgress creates a printer writing to w. Quiet drops per-batch lines.
func NewProgress(w io.Writer, quiet bool) *Progress {
	return &Progress{w: w, palette: Styles, quiet: quiet}
}

// Line styles one update. It returns "" for updates that are not shown.
func (p *Progress) Line(u tasks.ProgressUpdate) string {
	msg := u.Message
	switch {
	case u.Phase == tasks.LoadBatch:
		if p.quiet {
			return ""
		}
		return p.palette.Help(msg)
	case strings.HasPrefix(msg, "✓"), strings.Contains(msg, "] ✓"):
		return p.palette.OK(msg)
	case strings.HasPrefix(msg, "✗"), strings.Contains(msg, "] ✗"):
		return p.palette.Err(msg)
	case u.Phase == tasks.PlanChanges:
		return p.palette.Title(msg)
	case u.Phase == tasks.Publish && u.Step == 0:
		return p.palette.Warn(msg)
	}
	return msg
}

// Consume prints every update until updates is closed. The returned channel is closed once it has drained.
func (p *Progress) Consume(updates <-chan tasks.ProgressUpdate) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			if line := p.Line(u); line != "" {
				fmt.Fprintln(p.w, line)
			}
		}
	}()
	return done
}

// StateBadge styles a state by how far a run got.
func StateBadge(s models.State) string {
	switch s {
	case models.StatePublished, models.StateTeardown:
		return Styles.OK(string(s))
	case models.StateStart:
		return Styles.Err(string(s))
	default:
		return Styles.Warn(string(s))
	}
}

// Banner is the header printed above command output.
func Banner(title string) string {
	rule := strings.Repeat("═", max(len(title)+4, 39))
	return fmt.Sprintf("%s\n%s\n%s", rule, Styles.Title(title), rule)
}
