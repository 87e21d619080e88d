package presenter

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/aaronlmathis/noderes/internal/report"
)

var csvHeader = []string{
	"name", "status",
	"cpu_req", "cpu_lim", "cpu_use", "cpu_cap", "cpu_pct", "cpu_req_pct",
	"mem_req", "mem_lim", "mem_use", "mem_cap", "mem_pct", "mem_req_pct",
	"disk_use", "disk_cap", "disk_pct",
	"pods_ready", "pods_total",
}

func (p *Presenter) renderCSV(w io.Writer, r *report.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for i := range r.Nodes {
		n := &r.Nodes[i]
		if err := cw.Write([]string{
			n.Name, n.Health.String(),
			cores(n.CPURequested), cores(n.CPULimited), cores(n.CPUUsed), cores(n.CPUCapacity),
			pct(n.CPUUsePct), pct(n.CPUReqPct),
			gib(n.MemRequested), gib(n.MemLimited), gib(n.MemUsed), gib(n.MemCapacity),
			pct(n.MemUsePct), pct(n.MemReqPct),
			gib(n.DiskUsed), gib(n.DiskCapacity), pct(n.DiskUsePct),
			strconv.Itoa(n.PodsReady), strconv.Itoa(n.PodsTotal),
		}); err != nil {
			return err
		}
	}

	if p.opts.ShowTotals {
		t := &r.Totals
		if err := cw.Write([]string{
			"TOTAL", Placeholder,
			cores(t.CPURequested), cores(t.CPULimited), cores(t.CPUUsed), cores(t.CPUCapacity),
			Placeholder, Placeholder,
			gib(t.MemRequested), gib(t.MemLimited), gib(t.MemUsed), gib(t.MemCapacity),
			Placeholder, Placeholder,
			gib(t.DiskUsed), gib(t.DiskCapacity), Placeholder,
			strconv.Itoa(t.PodsReady), strconv.Itoa(t.PodsTotal),
		}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
