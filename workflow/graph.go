package workflow

import (
	"fmt"
	"sort"
)

// Graph is the immutable, validated representation of a workflow's nodes and
// edges. Built once per run; read-only for the life of the run.
type Graph struct {
	nodes  map[string]NodeSpec
	out    map[string][]Edge // outgoing edges by source, in definition order
	in     map[string][]Edge // incoming edges by target, in definition order
	layers [][]string
	layer  map[string]int
}

// BuildGraph validates a definition and computes its topology.
//
// Validation rules:
//   - node IDs must be non-empty and unique
//   - every edge endpoint must reference an existing node
//   - the directed graph must be acyclic
//
// Any violation returns a *ValidationError and no Graph.
func BuildGraph(def *WorkflowDefinition) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]NodeSpec, len(def.Nodes)),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
		layer: make(map[string]int),
	}

	for _, node := range def.Nodes {
		if node.ID == "" {
			return nil, &ValidationError{Kind: ValidationMalformed, Message: "node ID cannot be empty"}
		}
		if node.Type == "" {
			return nil, &ValidationError{Kind: ValidationMalformed, Message: "node type cannot be empty", NodeID: node.ID}
		}
		if _, exists := g.nodes[node.ID]; exists {
			return nil, &ValidationError{Kind: ValidationDuplicateNode, Message: "duplicate node ID", NodeID: node.ID}
		}
		g.nodes[node.ID] = node
	}

	for _, edge := range def.Edges {
		if _, ok := g.nodes[edge.Source]; !ok {
			return nil, &ValidationError{Kind: ValidationDanglingEdge, Message: fmt.Sprintf("edge source %q does not exist", edge.Source), NodeID: edge.Source}
		}
		if _, ok := g.nodes[edge.Target]; !ok {
			return nil, &ValidationError{Kind: ValidationDanglingEdge, Message: fmt.Sprintf("edge target %q does not exist", edge.Target), NodeID: edge.Target}
		}
		g.out[edge.Source] = append(g.out[edge.Source], edge)
		g.in[edge.Target] = append(g.in[edge.Target], edge)
	}

	if cycleNode, ok := g.findCycle(); ok {
		return nil, &ValidationError{Kind: ValidationCycle, Message: "workflow graph contains a cycle", NodeID: cycleNode}
	}

	g.computeLayers()
	return g, nil
}

// findCycle runs a three-color depth-first traversal. A back edge to an
// in-progress (gray) node is a cycle.
func (g *Graph) findCycle() (string, bool) {
	const (
		white = 0 // unvisited
		gray  = 1 // in progress
		black = 2 // done
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		color[id] = gray
		for _, edge := range g.out[id] {
			switch color[edge.Target] {
			case gray:
				return edge.Target, true
			case white:
				if n, found := visit(edge.Target); found {
					return n, true
				}
			}
		}
		color[id] = black
		return "", false
	}

	for _, id := range g.NodeIDs() {
		if color[id] == white {
			if n, found := visit(id); found {
				return n, true
			}
		}
	}
	return "", false
}

// computeLayers assigns each node its topological layer: layer 0 holds nodes
// with no incoming edges; layer k holds nodes all of whose predecessors sit
// in layers < k. Layers bound scheduling lookahead and give the ready set a
// stable dispatch order; they do not serialize execution.
func (g *Graph) computeLayers() {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.in[id])
	}

	current := make([]string, 0)
	for id, d := range indegree {
		if d == 0 {
			current = append(current, id)
		}
	}
	sort.Strings(current)

	level := 0
	for len(current) > 0 {
		g.layers = append(g.layers, current)
		for _, id := range current {
			g.layer[id] = level
		}

		next := make([]string, 0)
		for _, id := range current {
			for _, edge := range g.out[id] {
				indegree[edge.Target]--
				if indegree[edge.Target] == 0 {
					next = append(next, edge.Target)
				}
			}
		}
		sort.Strings(next)
		current = next
		level++
	}
}

// Node returns the NodeSpec for id.
func (g *Graph) Node(id string) (NodeSpec, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs returns all node IDs, sorted.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the node count.
func (g *Graph) Len() int { return len(g.nodes) }

// Layers returns the topological layering.
func (g *Graph) Layers() [][]string { return g.layers }

// Layer returns the topological layer of a node.
func (g *Graph) Layer(id string) int { return g.layer[id] }

// Successors returns the live outgoing edges of a node given the branch
// discriminator it produced. With an empty handle every edge is live. With a
// non-empty handle, edges whose SourceHandle matches (or is unset) are live;
// the rest are not traversed and their exclusive descendants get skipped.
func (g *Graph) Successors(nodeID, chosenHandle string) []Edge {
	edges := g.out[nodeID]
	if chosenHandle == "" {
		return edges
	}
	live := make([]Edge, 0, len(edges))
	for _, edge := range edges {
		if edge.SourceHandle == "" || edge.SourceHandle == chosenHandle {
			live = append(live, edge)
		}
	}
	return live
}

// Outgoing returns all outgoing edges of a node regardless of branch.
func (g *Graph) Outgoing(nodeID string) []Edge { return g.out[nodeID] }

// Predecessors returns the incoming edges of a node.
func (g *Graph) Predecessors(nodeID string) []Edge { return g.in[nodeID] }

// Restrict builds the subgraph containing fromID and every node reachable
// from it. Edges from nodes outside the subgraph are dropped; the replay
// manager seeds those predecessors' outputs from the original execution.
func (g *Graph) Restrict(fromID string) (*Graph, error) {
	if _, ok := g.nodes[fromID]; !ok {
		return nil, &ValidationError{Kind: ValidationMalformed, Message: "restrict root does not exist", NodeID: fromID}
	}

	keep := map[string]bool{fromID: true}
	stack := []string{fromID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, edge := range g.out[id] {
			if !keep[edge.Target] {
				keep[edge.Target] = true
				stack = append(stack, edge.Target)
			}
		}
	}

	def := &WorkflowDefinition{}
	for id := range keep {
		def.Nodes = append(def.Nodes, g.nodes[id])
	}
	sort.Slice(def.Nodes, func(i, j int) bool { return def.Nodes[i].ID < def.Nodes[j].ID })
	for _, id := range g.NodeIDs() {
		if !keep[id] {
			continue
		}
		for _, edge := range g.out[id] {
			if keep[edge.Target] {
				def.Edges = append(def.Edges, edge)
			}
		}
	}
	return BuildGraph(def)
}

// ExternalPredecessors returns, for every node of g, the incoming edge
// sources present in parent but absent from g. Used to decide which ancestor
// outputs a restricted replay must seed.
func (g *Graph) ExternalPredecessors(parent *Graph) []string {
	seen := make(map[string]bool)
	var external []string
	for id := range g.nodes {
		for _, edge := range parent.in[id] {
			if _, inside := g.nodes[edge.Source]; !inside && !seen[edge.Source] {
				seen[edge.Source] = true
				external = append(external, edge.Source)
			}
		}
	}
	sort.Strings(external)
	return external
}
