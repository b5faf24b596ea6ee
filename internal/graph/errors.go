package graph

import "errors"

var (
	// ErrUnknownNode is returned when a query names a node ID that is
	// not present in the graph.
	ErrUnknownNode = errors.New("unknown node")

	// ErrNoPath is returned by PathBetween when the nodes are not
	// connected in the filtered subgraph.
	ErrNoPath = errors.New("no path between nodes")
)
