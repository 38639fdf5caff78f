package community

import "sort"

// Assign maps every node of sg to the community id chosen by res.
func Assign(sg *SimilarityGraph, res *Result) map[string]int64 {
	out := make(map[string]int64, len(sg.IDs))
	for i, id := range sg.IDs {
		out[id] = int64(res.Membership[i])
	}
	return out
}

// Relabel renames the communities of next after the communities of prev
// they overlap most, measured by Jaccard similarity of their member sets.
// Pairs are matched greedily from the highest overlap down, ties going to
// the lower new id and then the lower previous id. Communities left
// unmatched get fresh ids above every previous id. Relabel returns the new
// assignment and the number of communities that kept a previous id.
func Relabel(prev, next map[string]int64) (map[string]int64, int) {
	prevMembers := groupByCommunity(prev)
	nextMembers := groupByCommunity(next)

	type pair struct {
		next, prev int64
		jaccard    float64
	}
	var pairs []pair
	for nc, members := range nextMembers {
		overlap := make(map[int64]int)
		for _, id := range members {
			if pc, ok := prev[id]; ok {
				overlap[pc]++
			}
		}
		for pc, inter := range overlap {
			union := len(members) + len(prevMembers[pc]) - inter
			pairs = append(pairs, pair{next: nc, prev: pc, jaccard: float64(inter) / float64(union)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].jaccard != pairs[j].jaccard {
			return pairs[i].jaccard > pairs[j].jaccard
		}
		if pairs[i].next != pairs[j].next {
			return pairs[i].next < pairs[j].next
		}
		return pairs[i].prev < pairs[j].prev
	})

	rename := make(map[int64]int64, len(nextMembers))
	taken := make(map[int64]bool, len(prevMembers))
	for _, p := range pairs {
		if _, done := rename[p.next]; done || taken[p.prev] {
			continue
		}
		rename[p.next] = p.prev
		taken[p.prev] = true
	}
	kept := len(rename)

	var fresh int64
	for pc := range prevMembers {
		fresh = max(fresh, pc+1)
	}
	nextIDs := make([]int64, 0, len(nextMembers))
	for nc := range nextMembers {
		nextIDs = append(nextIDs, nc)
	}
	sort.Slice(nextIDs, func(i, j int) bool { return nextIDs[i] < nextIDs[j] })
	for _, nc := range nextIDs {
		if _, ok := rename[nc]; !ok {
			rename[nc] = fresh
			fresh++
		}
	}

	out := make(map[string]int64, len(next))
	for id, nc := range next {
		out[id] = rename[nc]
	}
	return out, kept
}

func groupByCommunity(assignment map[string]int64) map[int64][]string {
	out := make(map[int64][]string)
	for id, c := range assignment {
		out[c] = append(out[c], id)
	}
	return out
}
