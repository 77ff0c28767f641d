package cancellation

import (
	"sort"
)

// statusPriority ranks competing requests for one order: a resolved
// cancellation beats a rejection, which beats a pending request.
func statusPriority(s Status) int {
	switch s {
	case StatusApproved:
		return 0
	case StatusRejected:
		return 1
	default:
		return 2
	}
}

// ranksBefore orders a group: priority first, then newest requestedAt.
// Equal rows keep their input order (the sort is stable).
func ranksBefore(a, b CancelRequest) bool {
	pa, pb := statusPriority(a.Status), statusPriority(b.Status)
	if pa != pb {
		return pa < pb
	}
	return a.RequestedAt.After(b.RequestedAt)
}

// groupKey is the order id. Rows without one cannot be correlated with
// anything, so each stands alone.
func groupKey(r CancelRequest) string {
	if r.Order.ID != "" {
		return "order:" + r.Order.ID
	}
	return "row:" + r.ID
}

// Reconcile marks, for every order, exactly one authoritative request and
// flags the rest IsSuperseded. It returns a new slice in input order and
// leaves the input untouched, so running it twice gives the same result.
func Reconcile(in []CancelRequest) []CancelRequest {
	out := CloneAll(in)

	groups := make(map[string][]int, len(out))
	for i := range out {
		k := groupKey(out[i])
		groups[k] = append(groups[k], i)
	}

	winner := make(map[string]int, len(groups))
	for k, idx := range groups {
		ranked := append([]int(nil), idx...)
		sort.SliceStable(ranked, func(a, b int) bool {
			return ranksBefore(out[ranked[a]], out[ranked[b]])
		})
		winner[k] = ranked[0]
		for pos, i := range ranked {
			out[i].IsSuperseded = pos != 0
		}
	}

	// Second pass: an approved cancellation dominates its order no matter
	// what else arrived. Every other row for that order is hidden.
	approvedWinner := make(map[string]int)
	for k, i := range winner {
		if out[i].Status == StatusApproved {
			approvedWinner[k] = i
		}
	}
	for i := range out {
		k := groupKey(out[i])
		if w, ok := approvedWinner[k]; ok && w != i {
			out[i].IsSuperseded = true
		}
	}

	return out
}

// Visible returns the non-superseded requests, newest first.
func Visible(in []CancelRequest) []CancelRequest {
	out := make([]CancelRequest, 0, len(in))
	for _, r := range in {
		if !r.IsSuperseded {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].RequestedAt.After(out[b].RequestedAt)
	})
	return out
}
