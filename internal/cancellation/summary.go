package cancellation

import "github.com/shopspring/decimal"

// Summary is the header strip of the owner view. Counts and totals cover
// non-superseded requests only; Superseded says how many rows were hidden.
type Summary struct {
	PendingCount  int             `json:"pending_count"`
	ApprovedCount int             `json:"approved_count"`
	RejectedCount int             `json:"rejected_count"`
	Superseded    int             `json:"superseded_count"`
	PendingTotal  decimal.Decimal `json:"pending_total"`
	ApprovedTotal decimal.Decimal `json:"approved_total"`
	RejectedTotal decimal.Decimal `json:"rejected_total"`
}

// Total is the number of visible requests.
func (s Summary) Total() int {
	return s.PendingCount + s.ApprovedCount + s.RejectedCount
}

// Summarize counts by canonical status after dropping superseded rows.
func Summarize(in []CancelRequest) Summary {
	s := Summary{
		PendingTotal:  decimal.Zero,
		ApprovedTotal: decimal.Zero,
		RejectedTotal: decimal.Zero,
	}
	for _, r := range in {
		if r.IsSuperseded {
			s.Superseded++
			continue
		}
		switch r.Status {
		case StatusApproved:
			s.ApprovedCount++
			s.ApprovedTotal = s.ApprovedTotal.Add(r.Order.TotalPrice)
		case StatusRejected:
			s.RejectedCount++
			s.RejectedTotal = s.RejectedTotal.Add(r.Order.TotalPrice)
		default:
			s.PendingCount++
			s.PendingTotal = s.PendingTotal.Add(r.Order.TotalPrice)
		}
	}
	return s
}
