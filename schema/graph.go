package schema

// dependencyGraph captures to-one references between entities: an edge from
// A to B means rows of A carry a foreign key into B, so B must exist first.
type dependencyGraph struct {
	order []string
	edges map[string][]string
}

func newDependencyGraph(order []string, entities map[string]*EntityMetadata) *dependencyGraph {
	g := &dependencyGraph{
		order: order,
		edges: make(map[string][]string),
	}
	for _, name := range order {
		for _, rel := range entities[name].Relations {
			if rel.Kind == ManyToOne {
				g.edges[name] = append(g.edges[name], rel.Target)
			}
		}
	}
	return g
}

// detectCycles returns every cycle of to-one references
func (g *dependencyGraph) detectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		visited[node] = true
		inStack[node] = true
		path = append(path, node)

		for _, next := range g.edges[node] {
			if !visited[next] {
				dfs(next, path)
			} else if inStack[next] {
				start := -1
				for i, n := range path {
					if n == next {
						start = i
						break
					}
				}
				if start >= 0 {
					cycle := make([]string, len(path)-start)
					copy(cycle, path[start:])
					cycles = append(cycles, cycle)
				}
			}
		}

		inStack[node] = false
	}

	for _, node := range g.order {
		if !visited[node] {
			dfs(node, nil)
		}
	}
	return cycles
}

// topologicalSort orders entities so dependencies come first. Entities caught
// in cycles are appended in registration order after the sortable prefix.
func (g *dependencyGraph) topologicalSort() []string {
	outDegree := make(map[string]int, len(g.order))
	reverse := make(map[string][]string)
	for _, node := range g.order {
		outDegree[node] = len(g.edges[node])
	}
	for src, targets := range g.edges {
		for _, t := range targets {
			reverse[t] = append(reverse[t], src)
		}
	}

	var queue []string
	for _, node := range g.order {
		if outDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.order))
	placed := make(map[string]bool, len(g.order))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)
		placed[node] = true

		for _, dep := range reverse[node] {
			outDegree[dep]--
			if outDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	for _, node := range g.order {
		if !placed[node] {
			result = append(result, node)
		}
	}
	return result
}
