package diagram

import (
	"github.com/rendis/flowarch/pkg/schema"
)

// Build constructs a DiagramModel from a canvas snapshot. Nodes are layered by
// longest path from the sources; cycles are broken in canvas order so every
// node lands on exactly one level. Edges whose endpoints are missing are moved
// to Dangling and take no part in layering.
func Build(snap schema.Snapshot, title string) *DiagramModel {
	if title == "" {
		title = DefaultTitle
	}
	model := &DiagramModel{Title: title}

	index := make(map[string]*Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		node := &Node{
			ID:       n.ID,
			Label:    n.Label,
			Shape:    n.ShapeKind,
			Color:    schema.NormalizeColor(n.Color),
			Position: n.Position,
		}
		if !node.Shape.Valid() {
			node.Shape = schema.ShapeProcess
		}
		model.Nodes = append(model.Nodes, node)
		index[n.ID] = node
	}

	for _, e := range snap.Edges {
		edge := Edge{ID: e.ID, From: e.Source, To: e.Target, Label: e.Label}
		if index[e.Source] == nil || index[e.Target] == nil {
			model.Dangling = append(model.Dangling, edge)
			continue
		}
		model.Edges = append(model.Edges, edge)
	}

	model.Levels = buildLevels(model.Nodes, model.Edges)
	return model
}

// buildLevels assigns each node the length of the longest path reaching it.
// It runs Kahn's algorithm; when only cyclic nodes remain, the earliest one in
// canvas order is released with the predecessors placed so far.
func buildLevels(nodes []*Node, edges []Edge) [][]string {
	if len(nodes) == 0 {
		return nil
	}

	inDegree := make(map[string]int, len(nodes))
	succ := make(map[string][]string, len(nodes))
	pred := make(map[string][]string, len(nodes))
	for _, e := range edges {
		if e.From == e.To {
			continue
		}
		succ[e.From] = append(succ[e.From], e.To)
		pred[e.To] = append(pred[e.To], e.From)
		inDegree[e.To]++
	}

	placed := make(map[string]bool, len(nodes))
	level := make(map[string]int, len(nodes))

	place := func(n *Node) []string {
		lvl := 0
		for _, p := range pred[n.ID] {
			if placed[p] && level[p]+1 > lvl {
				lvl = level[p] + 1
			}
		}
		level[n.ID] = lvl
		n.Level = lvl
		placed[n.ID] = true

		var ready []string
		for _, s := range succ[n.ID] {
			inDegree[s]--
			if inDegree[s] == 0 && !placed[s] {
				ready = append(ready, s)
			}
		}
		return ready
	}

	byID := make(map[string]*Node, len(nodes))
	var queue []string
	for _, n := range nodes {
		byID[n.ID] = n
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	for len(placed) < len(nodes) {
		if len(queue) == 0 {
			for _, n := range nodes {
				if !placed[n.ID] {
					queue = append(queue, n.ID)
					break
				}
			}
		}
		id := queue[0]
		queue = queue[1:]
		if placed[id] {
			continue
		}
		queue = append(queue, place(byID[id])...)
	}

	depth := 0
	for _, n := range nodes {
		if n.Level+1 > depth {
			depth = n.Level + 1
		}
	}
	levels := make([][]string, depth)
	for _, n := range nodes {
		levels[n.Level] = append(levels[n.Level], n.ID)
	}
	return levels
}
