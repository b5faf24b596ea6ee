// Package events defines the broadcast message envelopes published
// after every commit and consumed by external subscribers (visualizers,
// editor plug-ins, the MCP bridge).
package events

import "encoding/json"

// Type discriminates broadcast messages.
type Type string

const (
	TypeGraphUpdate   Type = "GraphUpdate"
	TypeFocusNode     Type = "FocusNode"
	TypeIndexerStatus Type = "IndexerStatus"
)

// Phase is the indexer's lifecycle stage reported in status events.
type Phase string

const (
	PhaseScanning  Phase = "Scanning"
	PhaseParsing   Phase = "Parsing"
	PhaseResolving Phase = "Resolving"
	PhaseRanking   Phase = "Ranking"
	PhaseReady     Phase = "Ready"
)

// Envelope is the wire shape of every broadcast message.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NodeSummary is the embedded node shape in non-delta graph updates.
type NodeSummary struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	File       string  `json:"file"`
	LineStart  int     `json:"line_start"`
	LineEnd    int     `json:"line_end"`
	Language   string  `json:"language"`
	Centrality float64 `json:"centrality"`
}

// EdgeSummary is the embedded edge shape in non-delta graph updates.
type EdgeSummary struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

// GraphUpdate announces one commit, or a full snapshot for new
// subscribers when IsDelta is false.
type GraphUpdate struct {
	IsDelta      bool          `json:"is_delta"`
	NodeCount    int           `json:"node_count"`
	EdgeCount    int           `json:"edge_count"`
	ChangedFiles []string      `json:"changed_files"`
	Added        []string      `json:"added,omitempty"`
	Modified     []string      `json:"modified,omitempty"`
	Removed      []string      `json:"removed,omitempty"`
	Nodes        []NodeSummary `json:"nodes,omitempty"`
	Edges        []EdgeSummary `json:"edges,omitempty"`
}

// FocusNode is a fire-and-forget spotlight emitted by an agent and
// rebroadcast unchanged.
type FocusNode struct {
	NodeID string `json:"node_id"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}

// IndexerStatus reports pipeline progress.
type IndexerStatus struct {
	Phase          Phase  `json:"phase"`
	FilesProcessed int    `json:"files_processed"`
	FilesTotal     int    `json:"files_total"`
	CurrentFile    string `json:"current_file,omitempty"`
}

// Wrap marshals a payload into an Envelope. Marshalling these payload
// types cannot fail; errors would indicate a programming bug, so Wrap
// panics instead of returning one.
func Wrap(t Type, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return Envelope{Type: t, Payload: raw}
}
