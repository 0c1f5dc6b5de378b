package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dusk-indust/orchestra/internal/outcome"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// GraphExport is the JSON document for one archived graph.
type GraphExport struct {
	RequestID    string               `json:"requestId"`
	ExportedAt   string               `json:"exportedAt"`
	Units        []workgraph.Unit     `json:"units"`
	Edges        []workgraph.Edge     `json:"edges"`
	Levels       [][]workgraph.UnitID `json:"levels"`
	CriticalPath []workgraph.UnitID   `json:"criticalPath"`
	PathWeight   float64              `json:"criticalPathWeight"`
}

// ExportGraph builds the JSON document for g.
func ExportGraph(requestID string, g *workgraph.Graph) *GraphExport {
	path, weight := g.CriticalPath()
	edges := g.Edges()
	if edges == nil {
		edges = []workgraph.Edge{}
	}
	return &GraphExport{
		RequestID:    requestID,
		ExportedAt:   time.Now().UTC().Format(time.RFC3339),
		Units:        g.Units(),
		Edges:        edges,
		Levels:       g.ExecutionLevels(),
		CriticalPath: path,
		PathWeight:   weight,
	}
}

// WriteOutcomes writes outs as JSON Lines, one outcome per line.
func WriteOutcomes(w io.Writer, outs []outcome.Outcome) error {
	enc := json.NewEncoder(w)
	for _, o := range outs {
		if err := enc.Encode(o); err != nil {
			return fmt.Errorf("export: outcome %d: %w", o.Seq, err)
		}
	}
	return nil
}

// StreamOutcomes writes every outcome after seq as JSON Lines and returns
// the last sequence number written, or seq if there was nothing new.
func StreamOutcomes(ctx context.Context, log outcome.Log, seq int64, w io.Writer) (int64, error) {
	outs, err := log.Since(ctx, seq)
	if err != nil {
		return seq, fmt.Errorf("export: read outcomes: %w", err)
	}
	if err := WriteOutcomes(w, outs); err != nil {
		return seq, err
	}
	if n := len(outs); n > 0 {
		seq = outs[n-1].Seq
	}
	return seq, nil
}
