// Package workflow models candidate question plans as directed graphs and
// provides enumeration, scoring, and selection over them.
package workflow

import (
	"fmt"

	"specline/internal/domain"
)

// ValidationError reports a malformed workflow definition. It is always
// surfaced to the caller, never silently corrected.
type ValidationError struct {
	WorkflowID string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow %s: %s", e.WorkflowID, e.Reason)
}

func invalid(def domain.WorkflowDefinition, format string, args ...any) error {
	return &ValidationError{WorkflowID: def.WorkflowID, Reason: fmt.Sprintf(format, args...)}
}

// EdgeKey identifies an edge by its endpoints.
func EdgeKey(from, to string) string {
	return from + "->" + to
}

// NodeMap indexes a definition's nodes by id.
func NodeMap(def domain.WorkflowDefinition) map[string]domain.WorkflowNode {
	m := make(map[string]domain.WorkflowNode, len(def.Nodes))
	for _, n := range def.Nodes {
		m[n.ID] = n
	}
	return m
}

// EdgeMap indexes a definition's edges by EdgeKey.
func EdgeMap(def domain.WorkflowDefinition) map[string]domain.WorkflowEdge {
	m := make(map[string]domain.WorkflowEdge, len(def.Edges))
	for _, e := range def.Edges {
		m[EdgeKey(e.FromNode, e.ToNode)] = e
	}
	return m
}

// adjacency returns outgoing edges per node in definition order, which keeps
// path enumeration deterministic.
func adjacency(def domain.WorkflowDefinition) map[string][]domain.WorkflowEdge {
	adj := make(map[string][]domain.WorkflowEdge, len(def.Nodes))
	for _, e := range def.Edges {
		adj[e.FromNode] = append(adj[e.FromNode], e)
	}
	return adj
}

func exitSet(def domain.WorkflowDefinition) map[string]bool {
	exits := make(map[string]bool, len(def.ExitNodeIDs))
	for _, id := range def.ExitNodeIDs {
		exits[id] = true
	}
	return exits
}

// Validate checks the structural invariants of a definition: known entry and
// exits, no dangling edges, exits without outgoing edges, every node
// reachable from the entry, and at least one exit reachable. Reachability is
// computed directly, not via path enumeration.
func Validate(def domain.WorkflowDefinition) error {
	if len(def.Nodes) == 0 {
		return invalid(def, "no nodes")
	}
	nodes := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		if n.ID == "" {
			return invalid(def, "node with empty id")
		}
		if nodes[n.ID] {
			return invalid(def, "duplicate node id %s", n.ID)
		}
		if n.EstimatedTokens < 0 {
			return invalid(def, "node %s has negative estimated tokens", n.ID)
		}
		nodes[n.ID] = true
	}
	if def.EntryNodeID == "" || !nodes[def.EntryNodeID] {
		return invalid(def, "entry node %s not present", def.EntryNodeID)
	}
	if len(def.ExitNodeIDs) == 0 {
		return invalid(def, "no exit nodes")
	}
	for _, id := range def.ExitNodeIDs {
		if !nodes[id] {
			return invalid(def, "exit node %s not present", id)
		}
	}
	adj := adjacency(def)
	for _, e := range def.Edges {
		if !nodes[e.FromNode] {
			return invalid(def, "edge references unknown node %s", e.FromNode)
		}
		if !nodes[e.ToNode] {
			return invalid(def, "edge references unknown node %s", e.ToNode)
		}
		if e.Cost < 0 {
			return invalid(def, "edge %s has negative cost", EdgeKey(e.FromNode, e.ToNode))
		}
	}
	for _, id := range def.ExitNodeIDs {
		if len(adj[id]) > 0 {
			return invalid(def, "exit node %s has outgoing edges", id)
		}
	}

	reached := map[string]bool{def.EntryNodeID: true}
	queue := []string{def.EntryNodeID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range adj[cur] {
			if !reached[e.ToNode] {
				reached[e.ToNode] = true
				queue = append(queue, e.ToNode)
			}
		}
	}
	for _, n := range def.Nodes {
		if !reached[n.ID] {
			return invalid(def, "node %s is unreachable from entry", n.ID)
		}
	}
	exitReached := false
	for _, id := range def.ExitNodeIDs {
		if reached[id] {
			exitReached = true
			break
		}
	}
	if !exitReached {
		return invalid(def, "no exit is reachable from entry")
	}
	return nil
}
