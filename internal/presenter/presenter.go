package presenter

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/aaronlmathis/noderes/internal/report"
)

// Format is an output representation of a report
type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
)

// ParseFormat validates an output format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatCSV, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("invalid output format %q (valid: table, csv, json)", s)
}

// Placeholder is shown in the totals row for columns that are not aggregated
const Placeholder = "-"

// Options configures rendering
type Options struct {
	Format     Format
	ShowTotals bool
	// NoColor disables ANSI colors in table output
	NoColor bool
}

// Presenter renders reports
type Presenter struct {
	opts Options

	green  *color.Color
	yellow *color.Color
	red    *color.Color
}

// New creates a presenter
func New(opts Options) *Presenter {
	if opts.Format == "" {
		opts.Format = FormatTable
	}
	p := &Presenter{
		opts:   opts,
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed),
	}
	if opts.NoColor {
		p.green.DisableColor()
		p.yellow.DisableColor()
		p.red.DisableColor()
	}
	return p
}

// Format returns the configured output format
func (p *Presenter) Format() Format {
	return p.opts.Format
}

// Render writes the report in the configured format
func (p *Presenter) Render(w io.Writer, r *report.Report) error {
	switch p.opts.Format {
	case FormatCSV:
		return p.renderCSV(w, r)
	case FormatJSON:
		return p.renderJSON(w, r)
	default:
		return p.renderTable(w, r)
	}
}

// Level is the color band of a percentage or status
type Level int

const (
	LevelOK Level = iota
	LevelWarn
	LevelCritical
)

// PercentLevel bands a percentage: below 60 OK, 60 to 79 warn, 80 and above critical
func PercentLevel(pct float64) Level {
	switch {
	case pct >= 80:
		return LevelCritical
	case pct >= 60:
		return LevelWarn
	default:
		return LevelOK
	}
}

// HealthLevel bands a node status: Ready OK, pressure warn, anything else critical
func HealthLevel(h report.Health) Level {
	switch h.Code() {
	case report.CodeReady:
		return LevelOK
	case report.CodePressure:
		return LevelWarn
	default:
		return LevelCritical
	}
}

func (p *Presenter) colorFor(level Level) *color.Color {
	switch level {
	case LevelCritical:
		return p.red
	case LevelWarn:
		return p.yellow
	default:
		return p.green
	}
}

// Pods renders the ready/total pod count
func Pods(ready, total int) string {
	return fmt.Sprintf("%d/%d", ready, total)
}

func cores(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func gib(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "Gi"
}

func pct(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}

func formatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
