package aggregator

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/aaronlmathis/noderes/internal/report"
	"github.com/aaronlmathis/noderes/internal/resources"
)

// SortField selects the column nodes are ordered by
type SortField string

const (
	SortName      SortField = "name"
	SortCPUReq    SortField = "cpu-req"
	SortCPULim    SortField = "cpu-lim"
	SortCPUUse    SortField = "cpu-use"
	SortCPUPct    SortField = "cpu-pct"
	SortCPUCap    SortField = "cpu-cap"
	SortCPUReqPct SortField = "cpu-req-pct"
	SortMemReq    SortField = "mem-req"
	SortMemLim    SortField = "mem-lim"
	SortMemUse    SortField = "mem-use"
	SortMemPct    SortField = "mem-pct"
	SortMemCap    SortField = "mem-cap"
	SortMemReqPct SortField = "mem-req-pct"
	SortDiskUse   SortField = "disk-use"
	SortDiskCap   SortField = "disk-cap"
	SortDiskPct   SortField = "disk-pct"
	SortPods      SortField = "pods"
	SortStatus    SortField = "status"
)

// DefaultSortBy is used when no sort field is configured
const DefaultSortBy = SortCPUPct

// numericFields maps every decimal sort field to the record value it reads
var numericFields = map[SortField]func(r *report.NodeRecord) float64{
	SortCPUReq:    func(r *report.NodeRecord) float64 { return r.CPURequested },
	SortCPULim:    func(r *report.NodeRecord) float64 { return r.CPULimited },
	SortCPUUse:    func(r *report.NodeRecord) float64 { return r.CPUUsed },
	SortCPUPct:    func(r *report.NodeRecord) float64 { return r.CPUUsePct },
	SortCPUCap:    func(r *report.NodeRecord) float64 { return r.CPUCapacity },
	SortCPUReqPct: func(r *report.NodeRecord) float64 { return r.CPUReqPct },
	SortMemReq:    func(r *report.NodeRecord) float64 { return r.MemRequested },
	SortMemLim:    func(r *report.NodeRecord) float64 { return r.MemLimited },
	SortMemUse:    func(r *report.NodeRecord) float64 { return r.MemUsed },
	SortMemPct:    func(r *report.NodeRecord) float64 { return r.MemUsePct },
	SortMemCap:    func(r *report.NodeRecord) float64 { return r.MemCapacity },
	SortMemReqPct: func(r *report.NodeRecord) float64 { return r.MemReqPct },
	SortDiskUse:   func(r *report.NodeRecord) float64 { return r.DiskUsed },
	SortDiskCap:   func(r *report.NodeRecord) float64 { return r.DiskCapacity },
	SortDiskPct:   func(r *report.NodeRecord) float64 { return r.DiskUsePct },
}

// SortFields lists every accepted sort field name
func SortFields() []string {
	names := []string{string(SortName), string(SortPods), string(SortStatus)}
	for field := range numericFields {
		names = append(names, string(field))
	}
	slices.Sort(names)
	return names
}

// ParseSortField validates a sort field name
func ParseSortField(s string) (SortField, error) {
	field := SortField(strings.ToLower(strings.TrimSpace(s)))
	switch field {
	case SortName, SortPods, SortStatus:
		return field, nil
	}
	if _, ok := numericFields[field]; ok {
		return field, nil
	}
	return "", fmt.Errorf("invalid sort field %q (valid: %s)", s, strings.Join(SortFields(), ", "))
}

// Options controls ordering of the aggregated report
type Options struct {
	Field   SortField
	Reverse bool
}

// Aggregate drains the record channel, derives the request percentages,
// accumulates cluster totals and returns the sorted report. It runs on a
// single goroutine after collection has finished.
func Aggregate(records <-chan report.NodeRecord, opts Options) *report.Report {
	if opts.Field == "" {
		opts.Field = DefaultSortBy
	}

	result := &report.Report{
		Timestamp: time.Now().UTC(),
		Sort:      report.SortInfo{Field: string(opts.Field), Reverse: opts.Reverse},
		Nodes:     []report.NodeRecord{},
	}

	for record := range records {
		record.CPUReqPct = resources.Percent(record.CPURequested, record.CPUCapacity)
		record.MemReqPct = resources.Percent(record.MemRequested, record.MemCapacity)
		result.Totals.Add(record)
		result.Nodes = append(result.Nodes, record)
	}

	Sort(result.Nodes, opts)
	return result
}

// Sort orders records descending by the selected field, or ascending when
// reversed. Ties keep their arrival order in the descending sequence, so a
// reversed sort is the exact reverse of the default one.
func Sort(records []report.NodeRecord, opts Options) {
	greater := comparator(opts.Field)
	sort.SliceStable(records, func(i, j int) bool {
		return greater(&records[i], &records[j])
	})
	if opts.Reverse {
		slices.Reverse(records)
	}
}

func comparator(field SortField) func(a, b *report.NodeRecord) bool {
	switch field {
	case SortName:
		return func(a, b *report.NodeRecord) bool { return a.Name > b.Name }
	case SortPods:
		return func(a, b *report.NodeRecord) bool { return a.PodsTotal > b.PodsTotal }
	case SortStatus:
		return func(a, b *report.NodeRecord) bool { return a.StatusCode() > b.StatusCode() }
	}

	value, ok := numericFields[field]
	if !ok {
		value = numericFields[DefaultSortBy]
	}
	// Compared at one decimal of precision, matching what is displayed
	return func(a, b *report.NodeRecord) bool {
		return resources.Round1(value(a)) > resources.Round1(value(b))
	}
}
