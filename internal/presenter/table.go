package presenter

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/aaronlmathis/noderes/internal/report"
)

var tableHeader = []string{
	"NAME", "STATUS",
	"CPU REQ", "CPU LIM", "CPU USE", "CPU CAP", "CPU%", "CPU REQ%",
	"MEM REQ", "MEM LIM", "MEM USE", "MEM CAP", "MEM%", "MEM REQ%",
	"DISK USE", "DISK CAP", "DISK%",
	"PODS",
}

// cell is one table value. Width is computed on the plain text so escape
// sequences never shift the columns.
type cell struct {
	text  string
	color *color.Color
}

func (p *Presenter) renderTable(w io.Writer, r *report.Report) error {
	rows := make([][]cell, 0, len(r.Nodes)+2)

	header := make([]cell, len(tableHeader))
	for i, h := range tableHeader {
		header[i] = cell{text: h}
	}
	rows = append(rows, header)

	for i := range r.Nodes {
		rows = append(rows, p.nodeRow(&r.Nodes[i]))
	}
	if p.opts.ShowTotals {
		rows = append(rows, totalsRow(&r.Totals))
	}

	widths := make([]int, len(tableHeader))
	for _, row := range rows {
		for i, c := range row {
			if len(c.text) > widths[i] {
				widths[i] = len(c.text)
			}
		}
	}

	var b strings.Builder
	for _, row := range rows {
		for i, c := range row {
			var padded string
			// Name is left aligned, every other column right aligned
			if i == 0 {
				padded = fmt.Sprintf("%-*s", widths[i], c.text)
			} else {
				padded = fmt.Sprintf("%*s", widths[i], c.text)
			}
			if c.color != nil {
				padded = c.color.Sprint(padded)
			}
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(padded)
		}
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (p *Presenter) nodeRow(n *report.NodeRecord) []cell {
	return []cell{
		{text: n.Name},
		{text: n.Health.String(), color: p.colorFor(HealthLevel(n.Health))},
		{text: cores(n.CPURequested)},
		{text: cores(n.CPULimited)},
		{text: cores(n.CPUUsed)},
		{text: cores(n.CPUCapacity)},
		{text: pct(n.CPUUsePct), color: p.colorFor(PercentLevel(n.CPUUsePct))},
		{text: pct(n.CPUReqPct)},
		{text: gib(n.MemRequested)},
		{text: gib(n.MemLimited)},
		{text: gib(n.MemUsed)},
		{text: gib(n.MemCapacity)},
		{text: pct(n.MemUsePct), color: p.colorFor(PercentLevel(n.MemUsePct))},
		{text: pct(n.MemReqPct)},
		{text: gib(n.DiskUsed)},
		{text: gib(n.DiskCapacity)},
		{text: pct(n.DiskUsePct), color: p.colorFor(PercentLevel(n.DiskUsePct))},
		{text: Pods(n.PodsReady, n.PodsTotal)},
	}
}

func totalsRow(t *report.ClusterTotals) []cell {
	return []cell{
		{text: fmt.Sprintf("TOTAL (%d)", t.NodeCount)},
		{text: Placeholder},
		{text: cores(t.CPURequested)},
		{text: cores(t.CPULimited)},
		{text: cores(t.CPUUsed)},
		{text: cores(t.CPUCapacity)},
		{text: Placeholder},
		{text: Placeholder},
		{text: gib(t.MemRequested)},
		{text: gib(t.MemLimited)},
		{text: gib(t.MemUsed)},
		{text: gib(t.MemCapacity)},
		{text: Placeholder},
		{text: Placeholder},
		{text: gib(t.DiskUsed)},
		{text: gib(t.DiskCapacity)},
		{text: Placeholder},
		{text: Pods(t.PodsReady, t.PodsTotal)},
	}
}
