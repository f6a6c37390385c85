// internal/leak/graph.go
// Cycle analysis over the reference graph
//
// LEARN: Classic three-colour DFS. A node is white (unvisited), grey (on
// the recursion stack) or black (finished). An edge into a grey node is a
// back edge and closes a cycle; the cycle is the stack slice from that
// node to the top. The graph is read-only here: we only report.

package leak

import (
	"slices"
	"sort"
)

const (
	white = iota
	grey
	black
)

// HasCycle reports whether the reference graph contains any cycle.
func (d *Detector) HasCycle() bool {
	return len(d.FindCycles()) > 0
}

// FindCycles returns each distinct cycle found by DFS as a handle path,
// rotated so the smallest handle comes first.
func (d *Detector) FindCycles() [][]Handle {
	d.mu.RLock()
	adj := make(map[Handle][]Handle, len(d.records))
	nodes := make([]Handle, 0, len(d.records))
	for h, r := range d.records {
		nodes = append(nodes, h)
		out := make([]Handle, 0, len(r.refs))
		for to := range r.refs {
			out = append(out, to)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		adj[h] = out
	}
	d.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return findCycles(nodes, adj)
}

// findCycles is iterative so deep reference chains cannot overflow the
// goroutine stack.
func findCycles(nodes []Handle, adj map[Handle][]Handle) [][]Handle {
	color := make(map[Handle]int, len(nodes))
	seen := make(map[string]struct{})
	var cycles [][]Handle

	type frame struct {
		node Handle
		next int
	}

	for _, root := range nodes {
		if color[root] != white {
			continue
		}
		stack := []frame{{node: root}}
		path := []Handle{root}
		color[root] = grey

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			edges := adj[top.node]
			if top.next >= len(edges) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
				continue
			}
			to := edges[top.next]
			top.next++

			switch color[to] {
			case white:
				color[to] = grey
				stack = append(stack, frame{node: to})
				path = append(path, to)
			case grey:
				start := slices.Index(path, to)
				cycle := canonical(path[start:])
				key := cycleKey(cycle)
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					cycles = append(cycles, cycle)
				}
			}
		}
	}
	return cycles
}

// canonical returns a copy of cycle rotated to start at its minimum.
func canonical(cycle []Handle) []Handle {
	minIdx := 0
	for i, h := range cycle {
		if h < cycle[minIdx] {
			minIdx = i
		}
	}
	out := make([]Handle, 0, len(cycle))
	out = append(out, cycle[minIdx:]...)
	out = append(out, cycle[:minIdx]...)
	return out
}

func cycleKey(cycle []Handle) string {
	b := make([]byte, 0, len(cycle)*9)
	for _, h := range cycle {
		for shift := 56; shift >= 0; shift -= 8 {
			b = append(b, byte(h>>uint(shift)))
		}
		b = append(b, ',')
	}
	return string(b)
}
