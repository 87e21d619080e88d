package presenter

import (
	"encoding/json"
	"io"

	"github.com/aaronlmathis/noderes/internal/report"
)

// Node is the JSON shape of one node record
type Node struct {
	report.NodeRecord
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
}

// Document is the JSON shape of a report, shared by the json output and the HTTP surface
type Document struct {
	Timestamp string                `json:"timestamp"`
	Sort      report.SortInfo       `json:"sort"`
	Nodes     []Node                `json:"nodes"`
	Totals    *report.ClusterTotals `json:"totals,omitempty"`
}

// NewDocument converts a report into its JSON shape
func NewDocument(r *report.Report, withTotals bool) Document {
	doc := Document{
		Timestamp: formatTimestamp(r.Timestamp),
		Sort:      r.Sort,
		Nodes:     make([]Node, 0, len(r.Nodes)),
	}
	for _, n := range r.Nodes {
		doc.Nodes = append(doc.Nodes, Node{
			NodeRecord: n,
			Status:     n.Health.String(),
			StatusCode: n.StatusCode(),
		})
	}
	if withTotals {
		totals := r.Totals
		doc.Totals = &totals
	}
	return doc
}

func (p *Presenter) renderJSON(w io.Writer, r *report.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(r, p.opts.ShowTotals))
}
