package main

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// TrimGraph bundles the co-owned buffers the trimmer holds for the
// duration of one Trim call: a read-only edge slice plus two mutable
// degree vectors and one mutable alive bitmap. Each call builds its own
// and none is shared across graphs (spec.md 9, "Graph ownership").
type TrimGraph struct {
	edges []Edge
	alive []uint32 // 0/1 per edge, accessed via atomic ops
	degU  []int32
	degV  []int32
}

// Trim runs trim_rounds passes of degree-<=1 elimination over edges and
// returns the surviving edge indices. Degree arrays are initialized from
// a degree-count pass over all (initially alive) edges.
//
// Each round performs pass U then pass V; decrements use relaxed-order
// atomics. Racing updates are acceptable -- the algorithm is monotone and
// idempotent up to an additional round (spec.md 4.2).
func Trim(edges []Edge, params GraphParams) []uint32 {
	g := &TrimGraph{
		edges: edges,
		alive: make([]uint32, len(edges)),
		degU:  make([]int32, params.NumNodes),
		degV:  make([]int32, params.NumNodes),
	}
	for i := range g.alive {
		g.alive[i] = 1
	}
	for _, e := range edges {
		g.degU[e.U]++
		g.degV[e.V]++
	}

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}

	for round := uint32(0); round < params.TrimRounds; round++ {
		killedU := trimPass(g, workers, true)
		killedV := trimPass(g, workers, false)
		if killedU == 0 && killedV == 0 {
			break // early termination: a no-op round, further rounds are no-ops
		}
	}

	surviving := make([]uint32, 0, len(edges)/4)
	for i, a := range g.alive {
		if atomic.LoadUint32(&a) == 1 {
			surviving = append(surviving, uint32(i))
		}
	}
	return surviving
}

// trimPass runs one sub-pass (U-side if byU, else V-side) over all alive
// edges, split across worker goroutines, and returns the number of edges
// killed in this sub-pass.
func trimPass(g *TrimGraph, workers int, byU bool) uint64 {
	n := len(g.edges)
	if n == 0 {
		return 0
	}
	chunk := (n + workers - 1) / workers
	var killed uint64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if start >= n {
			break
		}
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			var local uint64
			for i := start; i < end; i++ {
				if atomic.LoadUint32(&g.alive[i]) == 0 {
					continue
				}
				e := g.edges[i]
				var deg int32
				if byU {
					deg = atomic.LoadInt32(&g.degU[e.U])
				} else {
					deg = atomic.LoadInt32(&g.degV[e.V])
				}
				if deg <= 1 {
					if atomic.CompareAndSwapUint32(&g.alive[i], 1, 0) {
						atomic.AddInt32(&g.degU[e.U], -1)
						atomic.AddInt32(&g.degV[e.V], -1)
						local++
					}
				}
			}
			atomic.AddUint64(&killed, local)
		}(start, end)
	}
	wg.Wait()
	return killed
}

// TrimCPU is the sequential CPU fallback. It must produce the same
// surviving set as Trim after trim_rounds rounds (spec.md 4.2 requires a
// CPU fallback that agrees with the parallel primitive).
func TrimCPU(edges []Edge, params GraphParams) []uint32 {
	alive := make([]bool, len(edges))
	for i := range alive {
		alive[i] = true
	}
	degU := make([]int32, params.NumNodes)
	degV := make([]int32, params.NumNodes)
	for _, e := range edges {
		degU[e.U]++
		degV[e.V]++
	}

	for round := uint32(0); round < params.TrimRounds; round++ {
		killed := 0
		for i, e := range edges {
			if !alive[i] {
				continue
			}
			if degU[e.U] <= 1 {
				alive[i] = false
				degU[e.U]--
				degV[e.V]--
				killed++
			}
		}
		for i, e := range edges {
			if !alive[i] {
				continue
			}
			if degV[e.V] <= 1 {
				alive[i] = false
				degU[e.U]--
				degV[e.V]--
				killed++
			}
		}
		if killed == 0 {
			break
		}
	}

	surviving := make([]uint32, 0, len(edges)/4)
	for i, a := range alive {
		if a {
			surviving = append(surviving, uint32(i))
		}
	}
	return surviving
}
