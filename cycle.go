package main

// CycleLength is the fixed length of the cycle the finder searches for:
// 4 distinct U-nodes and 4 distinct V-nodes, alternating U-V-U-V-U-V-U-V.
const CycleLength = 8

// adjEntry is one incident edge recorded in an adjacency list: the
// neighbor node on the other side, and the local index (position within
// the surviving slice passed to FindCycle) of the edge.
type adjEntry struct {
	neighbor   uint32
	localIndex int
}

// FindCycle searches the given subset of edges (identified by their
// position in the full generated edge set, via fullIndices) for a single
// simple 8-edge cycle alternating U-V-U-V-U-V-U-V over 4 distinct U-nodes
// and 4 distinct V-nodes. Returns the ordered full-graph edge indices of
// the cycle, or nil if none is found.
func FindCycle(edges []Edge, fullIndices []uint32) []uint32 {
	n := len(edges)
	if n < CycleLength {
		return nil
	}

	adjU := make(map[uint32][]adjEntry)
	adjV := make(map[uint32][]adjEntry)
	for i, e := range edges {
		adjU[e.U] = append(adjU[e.U], adjEntry{neighbor: e.V, localIndex: i})
		adjV[e.V] = append(adjV[e.V], adjEntry{neighbor: e.U, localIndex: i})
	}

	for startU, incident := range adjU {
		if len(incident) < 2 {
			continue
		}
		for _, first := range incident {
			path := make([]int, 0, CycleLength)
			usedU := map[uint32]bool{startU: true}
			usedV := map[uint32]bool{}
			path = append(path, first.localIndex)
			usedV[first.neighbor] = true

			if found := dfs(adjU, adjV, startU, first.neighbor, 1, path, usedU, usedV); found != nil {
				result := make([]uint32, CycleLength)
				for i, local := range found {
					result[i] = fullIndices[local]
				}
				return result
			}
		}
	}
	return nil
}

// dfs alternates V->U and U->V hops. depth counts edges placed so far.
// At depth 7 (about to place the 8th and final edge) the next hop must
// land back on startU. Otherwise U/V revisits are forbidden and the
// landing node must have remaining degree >= 2 (it has another incident
// edge besides the one just used) so the search can still close the loop.
func dfs(adjU, adjV map[uint32][]adjEntry, startU, currentV uint32, depth int, path []int, usedU, usedV map[uint32]bool) []int {
	if depth == CycleLength-1 {
		// Next hop (V -> U) must return to startU to close the cycle.
		for _, edge := range adjV[currentV] {
			if edge.neighbor == startU && !contains(path, edge.localIndex) {
				return append(append([]int{}, path...), edge.localIndex)
			}
		}
		return nil
	}

	// V -> U hop
	for _, uEdge := range adjV[currentV] {
		nextU := uEdge.neighbor
		if usedU[nextU] {
			continue
		}
		if len(adjU[nextU]) < 2 {
			continue
		}
		usedU[nextU] = true
		path = append(path, uEdge.localIndex)

		// U -> V hop
		for _, vEdge := range adjU[nextU] {
			if vEdge.localIndex == uEdge.localIndex {
				continue
			}
			nextV := vEdge.neighbor
			if usedV[nextV] {
				continue
			}
			if len(adjV[nextV]) < 2 {
				continue
			}
			usedV[nextV] = true
			path = append(path, vEdge.localIndex)

			if result := dfs(adjU, adjV, startU, nextV, depth+2, path, usedU, usedV); result != nil {
				return result
			}

			path = path[:len(path)-1]
			usedV[nextV] = false
		}

		path = path[:len(path)-1]
		usedU[nextU] = false
	}
	return nil
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// FormsValidCycle checks that the 8 given edges induce a connected
// bipartite graph of 4 distinct U-nodes and 4 distinct V-nodes, each of
// degree exactly 2 -- this rules out, among other malformed inputs, two
// disjoint 4-cycles (scenario 3 in spec.md 8).
func FormsValidCycle(edges []Edge) bool {
	if len(edges) != CycleLength {
		return false
	}

	degU := make(map[uint32]int)
	degV := make(map[uint32]int)
	for _, e := range edges {
		degU[e.U]++
		degV[e.V]++
	}
	if len(degU) != 4 || len(degV) != 4 {
		return false
	}
	for _, d := range degU {
		if d != 2 {
			return false
		}
	}
	for _, d := range degV {
		if d != 2 {
			return false
		}
	}

	// Connectivity: BFS/union over the induced subgraph's nodes.
	adj := make(map[string][]string)
	key := func(isU bool, n uint32) string {
		if isU {
			return "u" + itoa(n)
		}
		return "v" + itoa(n)
	}
	for _, e := range edges {
		ku, kv := key(true, e.U), key(false, e.V)
		adj[ku] = append(adj[ku], kv)
		adj[kv] = append(adj[kv], ku)
	}

	visited := map[string]bool{}
	var start string
	for k := range adj {
		start = k
		break
	}
	queue := []string{start}
	visited[start] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range adj[cur] {
			if !visited[nb] {
				visited[nb] = true
				queue = append(queue, nb)
			}
		}
	}
	return len(visited) == len(adj)
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
