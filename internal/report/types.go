package report

import (
	"strings"
	"time"
)

// Status is the node readiness derived from the Ready condition
type Status string

const (
	StatusReady    Status = "Ready"
	StatusNotReady Status = "NotReady"
	StatusUnknown  Status = "Unknown"
)

// Pressure is an active node pressure condition
type Pressure string

const (
	MemoryPressure     Pressure = "MemoryPressure"
	DiskPressure       Pressure = "DiskPressure"
	PIDPressure        Pressure = "PIDPressure"
	NetworkUnavailable Pressure = "NetworkUnavailable"
)

// Status codes used for ranking nodes by health
const (
	CodeReady    = 0
	CodeNotReady = 1
	CodePressure = 2
)

// Health combines readiness and active pressure conditions
type Health struct {
	Status    Status     `json:"status"`
	Pressures []Pressure `json:"pressures,omitempty"`
}

// Code returns the health ranking: 0 Ready, 1 NotReady/Unknown, 2 Ready with
// pressure. Readiness outranks pressure.
func (h Health) Code() int {
	if h.Status != StatusReady {
		return CodeNotReady
	}
	if len(h.Pressures) > 0 {
		return CodePressure
	}
	return CodeReady
}

// String renders the status followed by any active pressures, e.g. "Ready,DiskPressure"
func (h Health) String() string {
	if len(h.Pressures) == 0 {
		return string(h.Status)
	}
	parts := make([]string, 0, len(h.Pressures)+1)
	parts = append(parts, string(h.Status))
	for _, p := range h.Pressures {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ",")
}

// NodeRecord is the canonical per-node result of one collection cycle.
// CPU values are cores, memory and disk values are GiB.
type NodeRecord struct {
	Name   string `json:"name"`
	Health Health `json:"health"`

	CPURequested float64 `json:"cpuRequested"`
	CPULimited   float64 `json:"cpuLimited"`
	CPUUsed      float64 `json:"cpuUsed"`
	CPUCapacity  float64 `json:"cpuCapacity"`

	MemRequested float64 `json:"memRequested"`
	MemLimited   float64 `json:"memLimited"`
	MemUsed      float64 `json:"memUsed"`
	MemCapacity  float64 `json:"memCapacity"`

	DiskUsed      float64 `json:"diskUsed"`
	DiskCapacity  float64 `json:"diskCapacity"`
	DiskRequested float64 `json:"diskRequested"`

	CPUUsePct  float64 `json:"cpuUsePct"`
	MemUsePct  float64 `json:"memUsePct"`
	DiskUsePct float64 `json:"diskUsePct"`
	CPUReqPct  float64 `json:"cpuReqPct"`
	MemReqPct  float64 `json:"memReqPct"`

	PodsTotal int `json:"podsTotal"`
	PodsReady int `json:"podsReady"`

	// Degraded is set when at least one per-node query failed
	Degraded bool `json:"degraded,omitempty"`
}

// StatusCode returns the record's health ranking
func (r NodeRecord) StatusCode() int {
	return r.Health.Code()
}

// UnknownRecord returns the zeroed record emitted when no data could be gathered for a node
func UnknownRecord(name string) NodeRecord {
	return NodeRecord{
		Name:     name,
		Health:   Health{Status: StatusUnknown},
		Degraded: true,
	}
}

// ClusterTotals holds running sums of every raw node field.
// Totals carry no percentages.
type ClusterTotals struct {
	NodeCount int `json:"nodeCount"`

	CPURequested float64 `json:"cpuRequested"`
	CPULimited   float64 `json:"cpuLimited"`
	CPUUsed      float64 `json:"cpuUsed"`
	CPUCapacity  float64 `json:"cpuCapacity"`

	MemRequested float64 `json:"memRequested"`
	MemLimited   float64 `json:"memLimited"`
	MemUsed      float64 `json:"memUsed"`
	MemCapacity  float64 `json:"memCapacity"`

	DiskUsed      float64 `json:"diskUsed"`
	DiskCapacity  float64 `json:"diskCapacity"`
	DiskRequested float64 `json:"diskRequested"`

	PodsTotal int `json:"podsTotal"`
	PodsReady int `json:"podsReady"`
}

// Add accumulates one record into the totals
func (t *ClusterTotals) Add(r NodeRecord) {
	t.NodeCount++
	t.CPURequested += r.CPURequested
	t.CPULimited += r.CPULimited
	t.CPUUsed += r.CPUUsed
	t.CPUCapacity += r.CPUCapacity
	t.MemRequested += r.MemRequested
	t.MemLimited += r.MemLimited
	t.MemUsed += r.MemUsed
	t.MemCapacity += r.MemCapacity
	t.DiskUsed += r.DiskUsed
	t.DiskCapacity += r.DiskCapacity
	t.DiskRequested += r.DiskRequested
	t.PodsTotal += r.PodsTotal
	t.PodsReady += r.PodsReady
}

// SortInfo describes how the nodes in a report were ordered
type SortInfo struct {
	Field   string `json:"field"`
	Reverse bool   `json:"reverse"`
}

// Report is one completed collection cycle, ready for rendering
type Report struct {
	Timestamp time.Time     `json:"timestamp"`
	Sort      SortInfo      `json:"sort"`
	Nodes     []NodeRecord  `json:"nodes"`
	Totals    ClusterTotals `json:"totals"`
}
