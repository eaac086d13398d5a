package workflow

// Graph is a directed dependency structure over named nodes. An edge
// from -> to means to cannot start until from is resolved.
//
// Node order is registration order; every query that returns a node list
// reports nodes in that order. Graph is not safe for concurrent mutation; a
// Workflow only mutates it while being defined.
type Graph struct {
	order      []string
	index      map[string]int
	deps       map[string]map[string]struct{}
	depList    map[string][]string
	dependents map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		index:      make(map[string]int),
		deps:       make(map[string]map[string]struct{}),
		depList:    make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// AddNode registers a node.
func (g *Graph) AddNode(id string) error {
	if _, exists := g.index[id]; exists {
		return &DuplicateNodeError{Node: id}
	}
	g.index[id] = len(g.order)
	g.order = append(g.order, id)
	g.deps[id] = make(map[string]struct{})
	return nil
}

// AddEdge records that to depends on from. It does not check for cycles;
// use TopologicalSort once the graph is complete. Adding an existing edge
// again is a no-op.
func (g *Graph) AddEdge(from, to string) error {
	if !g.Has(from) {
		return &UnknownNodeError{Node: from}
	}
	if !g.Has(to) {
		return &UnknownNodeError{Node: to}
	}
	if _, exists := g.deps[to][from]; exists {
		return nil
	}
	g.deps[to][from] = struct{}{}
	g.depList[to] = append(g.depList[to], from)
	g.dependents[from] = append(g.dependents[from], to)
	return nil
}

// Has reports whether id is registered.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Nodes returns all node ids in registration order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Dependencies returns the direct predecessors of id in the order the edges
// were added.
func (g *Graph) Dependencies(id string) []string {
	deps := g.depList[id]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// Dependents returns the direct successors of id in the order the edges were
// added.
func (g *Graph) Dependents(id string) []string {
	next := g.dependents[id]
	out := make([]string, len(next))
	copy(out, next)
	return out
}

// Roots returns the nodes without dependencies.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.deps[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Ready returns every node not in resolved whose dependencies are all in
// resolved.
func (g *Graph) Ready(resolved map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		if resolved[id] {
			continue
		}
		satisfied := true
		for dep := range g.deps[id] {
			if !resolved[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// TopologicalSort returns an order consistent with every edge, or a
// *CycleError naming a node on a cycle.
//
// The search is an iterative three-colour DFS over dependents: a node reached
// while still grey is on the current path and closes a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	const (
		white = iota
		grey
		black
	)
	type frame struct {
		node string
		next int
	}

	color := make(map[string]int, len(g.order))
	post := make([]string, 0, len(g.order))

	for _, start := range g.order {
		if color[start] != white {
			continue
		}
		stack := []frame{{node: start}}
		color[start] = grey

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := g.dependents[top.node]
			if top.next == len(children) {
				color[top.node] = black
				post = append(post, top.node)
				stack = stack[:len(stack)-1]
				continue
			}
			child := children[top.next]
			top.next++

			switch color[child] {
			case white:
				color[child] = grey
				stack = append(stack, frame{node: child})
			case grey:
				path := []string{child}
				for i := len(stack) - 1; i >= 0 && stack[i].node != child; i-- {
					path = append(path, stack[i].node)
				}
				path = append(path, child)
				reverse(path)
				return nil, &CycleError{Node: child, Path: path}
			}
		}
	}

	reverse(post)
	return post, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
