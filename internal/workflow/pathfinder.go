package workflow

import (
	"fmt"

	"specline/internal/domain"
)

// FindAllPaths enumerates every simple path from the entry node to an exit
// node via depth-first search. A node may appear in many paths but never
// twice within one. Path ids are assigned in discovery order, which callers
// rely on for deterministic tie-breaking.
//
// Plan graphs are hand-authored (tens of nodes, low branching), so the
// exponential worst case of exhaustive enumeration is acceptable.
func FindAllPaths(def domain.WorkflowDefinition) []domain.WorkflowPath {
	adj := adjacency(def)
	exits := exitSet(def)

	var paths []domain.WorkflowPath
	var nodeTrail []string
	var edgeTrail []string
	onPath := map[string]bool{}

	var walk func(nodeID string)
	walk = func(nodeID string) {
		nodeTrail = append(nodeTrail, nodeID)
		onPath[nodeID] = true
		defer func() {
			nodeTrail = nodeTrail[:len(nodeTrail)-1]
			delete(onPath, nodeID)
		}()

		if exits[nodeID] {
			paths = append(paths, domain.WorkflowPath{
				PathID:   fmt.Sprintf("path-%d", len(paths)+1),
				NodeIDs:  append([]string(nil), nodeTrail...),
				EdgeKeys: append([]string(nil), edgeTrail...),
			})
			return
		}
		for _, e := range adj[nodeID] {
			if onPath[e.ToNode] {
				continue
			}
			edgeTrail = append(edgeTrail, EdgeKey(e.FromNode, e.ToNode))
			walk(e.ToNode)
			edgeTrail = edgeTrail[:len(edgeTrail)-1]
		}
	}

	walk(def.EntryNodeID)
	return paths
}
