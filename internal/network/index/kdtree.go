package index

import (
	"math"

	"github.com/paulmach/orb"

	"basenet/pkg/domain"
)

type entry struct {
	id domain.NodeID
	p  orb.Point
}

type kdNode struct {
	e  entry
	ax int // 0:x, 1:y
	l  *kdNode
	r  *kdNode
}

func buildKD(es []entry, depth int) *kdNode {
	if len(es) == 0 {
		return nil
	}
	ax := depth % 2
	mid := len(es) / 2
	selectNth(es, mid, ax)
	n := &kdNode{e: es[mid], ax: ax}
	n.l = buildKD(es[:mid], depth+1)
	n.r = buildKD(es[mid+1:], depth+1)
	return n
}

// selectNth places the n-th smallest entry along ax at index n.
func selectNth(a []entry, n, ax int) {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := partition(a, lo, hi, (lo+hi)/2, ax)
		if p == n {
			return
		}
		if n < p {
			hi = p - 1
		} else {
			lo = p + 1
		}
	}
}

func partition(a []entry, lo, hi, pivot, ax int) int {
	pv := a[pivot]
	a[pivot], a[hi] = a[hi], a[pivot]
	i := lo
	for j := lo; j < hi; j++ {
		if a[j].p[ax] < pv.p[ax] {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}

// nearest walks the tree and keeps the closest live entry within maxDist.
// Ties on distance resolve to the lowest id so lookups are deterministic.
func nearest(root *kdNode, pt orb.Point, maxDist float64, dead func(domain.NodeID) bool) (entry, float64, bool) {
	var best entry
	bestD := maxDist
	found := false
	var dfs func(n *kdNode)
	dfs = func(n *kdNode) {
		if n == nil {
			return
		}
		if !dead(n.e.id) {
			d := dist(pt, n.e.p)
			if d < bestD || (d == bestD && (!found || n.e.id < best.id)) {
				best, bestD, found = n.e, d, true
			}
		}
		key, q := pt[n.ax], n.e.p[n.ax]
		first, second := n.l, n.r
		if key >= q {
			first, second = n.r, n.l
		}
		dfs(first)
		// the splitting plane is within reach of the best distance
		if math.Abs(key-q) <= bestD {
			dfs(second)
		}
	}
	dfs(root)
	return best, bestD, found
}

// within collects live entries no farther than radius from pt.
func within(root *kdNode, pt orb.Point, radius float64, dead func(domain.NodeID) bool, out []entry) []entry {
	if root == nil {
		return out
	}
	if !dead(root.e.id) && dist(pt, root.e.p) <= radius {
		out = append(out, root.e)
	}
	key, q := pt[root.ax], root.e.p[root.ax]
	if key-radius <= q {
		out = within(root.l, pt, radius, dead, out)
	}
	if key+radius >= q {
		out = within(root.r, pt, radius, dead, out)
	}
	return out
}

func dist(a, b orb.Point) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}
