package cancellation

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kiwari-pos/canceldesk/internal/backend"
	"github.com/kiwari-pos/canceldesk/internal/enum"
)

// cashierCancelMarkers identify reasons written by the POS itself when a
// cashier uses the in-app cancel action. Matched case-insensitively.
var cashierCancelMarkers = []string{
	"cancelled by cashier",
	"canceled by cashier",
	"[system] cashier cancel",
}

// CashierCancelLabel is shown instead of the raw marker text.
const CashierCancelLabel = "Cancelled by cashier (in-app)"

// CanonicalStatus maps a raw backend status token onto one of the three
// canonical statuses. Unknown and empty tokens are pending.
func CanonicalStatus(token string) Status {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "approved", "cancelled", "cancelled_approved":
		return StatusApproved
	case "rejected":
		return StatusRejected
	default:
		return StatusPending
	}
}

// ClassifyReason reports whether reason is a system-generated cashier cancel.
func ClassifyReason(reason string) ReasonKind {
	lower := strings.ToLower(reason)
	for _, m := range cashierCancelMarkers {
		if strings.Contains(lower, m) {
			return ReasonCashierInitiated
		}
	}
	return ReasonFreeText
}

// DisplayReason is the owner-facing label. The stored Reason is untouched.
func (r CancelRequest) DisplayReason() string {
	if r.ReasonKind == ReasonCashierInitiated {
		return CashierCancelLabel
	}
	if strings.TrimSpace(r.Reason) == "" {
		return "-"
	}
	return r.Reason
}

// Normalize turns one raw cancellation row plus its enrichment into a
// CancelRequest. It never fails: malformed input degrades to safe defaults.
func Normalize(raw backend.RawCancellation, enr Enrichment) CancelRequest {
	order := normalizeOrder(raw, enr.Order)

	items := make([]OrderLineItem, 0, len(enr.Items))
	for _, it := range enr.Items {
		items = append(items, normalizeItem(it))
	}

	reason := raw.Reason.String()
	req := CancelRequest{
		ID:          raw.Key(),
		Order:       order,
		Items:       items,
		RequestedBy: resolveRequester(raw.CancelledBy, order.Cashier),
		Reason:      reason,
		ReasonKind:  ClassifyReason(reason),
		RequestedAt: raw.CancelledAt.Time,
		Status:      CanonicalStatus(raw.Status.String()),
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = raw.CreatedAt.Time
	}

	switch req.Status {
	case StatusApproved:
		if p, ok := parsePerson(raw.ApprovedBy); ok {
			req.ApprovedBy = &p
		}
		if !raw.ApprovedAt.IsZero() {
			t := raw.ApprovedAt.Time
			req.ApprovedAt = &t
		}
	case StatusRejected:
		if p, ok := parsePerson(raw.RejectedBy); ok {
			req.RejectedBy = &p
		}
		if !raw.RejectedAt.IsZero() {
			t := raw.RejectedAt.Time
			req.RejectedAt = &t
		}
		req.RejectionReason = raw.RejectionReason.String()
	}

	return req
}

// normalizeOrder prefers the fetched order and fills any gaps from the
// partial order embedded in the cancellation row.
func normalizeOrder(raw backend.RawCancellation, fetched *backend.RawOrder) OrderSnapshot {
	var embedded backend.RawOrder
	if raw.Order != nil {
		embedded = *raw.Order
	}
	primary := embedded
	if fetched != nil {
		primary = *fetched
	}

	pick := func(a, b backend.FlexString) string {
		if a != "" {
			return a.String()
		}
		return b.String()
	}

	snap := OrderSnapshot{
		ID:            raw.OrderKey(),
		CustomerName:  pick(primary.CustomerName, embedded.CustomerName),
		CustomerPhone: pick(primary.CustomerPhone, embedded.CustomerPhone),
		OrderType:     CanonicalOrderType(pick(primary.OrderType, embedded.OrderType)),
		TotalPrice:    primary.TotalPrice.Decimal,
		CreatedAt:     primary.CreatedAt.Time,
		TableNumber:   pick(primary.TableNumber, embedded.TableNumber),
		Status:        CanonicalOrderStatus(pick(primary.Status, embedded.Status)),
	}
	if snap.ID == "" {
		snap.ID = primary.Key()
	}
	if snap.TotalPrice.IsZero() {
		snap.TotalPrice = embedded.TotalPrice.Decimal
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = embedded.CreatedAt.Time
	}
	if p, ok := parsePerson(primary.Cashier); ok {
		snap.Cashier = &p
	} else if p, ok := parsePerson(embedded.Cashier); ok {
		snap.Cashier = &p
	}
	if snap.Cashier != nil && snap.Cashier.DisplayName == "" {
		snap.Cashier.DisplayName = UnknownCashier
	}
	return snap
}

func normalizeItem(it backend.RawOrderItem) OrderLineItem {
	name := it.ProductName.String()
	if name == "" && it.Product != nil {
		name = it.Product.Name.String()
	}
	if name == "" {
		name = "unknown item"
	}

	extras := make([]Extra, 0, len(it.Extras))
	for _, e := range it.Extras {
		extras = append(extras, Extra{Name: e.Name.String(), Price: e.Price.Decimal})
	}

	qty := int(it.Quantity)
	if qty < 0 {
		qty = 0
	}

	return OrderLineItem{
		ID:          it.ID.String(),
		ProductName: name,
		Size:        it.Size.String(),
		UnitPrice:   it.Price.Decimal,
		Quantity:    qty,
		Extras:      extras,
	}
}

// CanonicalOrderType folds the spellings seen in the wild onto the four
// order types. Unrecognised values fall back to dine-in.
func CanonicalOrderType(v string) string {
	key := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(v)))
	switch key {
	case "takeaway", "takeout", "togo":
		return enum.OrderTypeTakeaway
	case "delivery":
		return enum.OrderTypeDelivery
	case "cafe", "coffee":
		return enum.OrderTypeCafe
	default:
		return enum.OrderTypeDineIn
	}
}

// CanonicalOrderStatus folds order status spellings onto the four order
// statuses. Unrecognised values are pending.
func CanonicalOrderStatus(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "active", "in_progress", "processing", "preparing", "ready":
		return enum.OrderStatusActive
	case "completed", "complete", "done", "paid":
		return enum.OrderStatusCompleted
	case "cancelled", "canceled":
		return enum.OrderStatusCancelled
	default:
		return enum.OrderStatusPending
	}
}

// resolveRequester applies the requester lookup order: the cancelled_by
// object's name fields, then its username; when cancelled_by is absent the
// order's cashier; finally the UnknownCashier label.
func resolveRequester(cancelledBy json.RawMessage, cashier *Person) Person {
	p, ok := parsePerson(cancelledBy)
	if !ok {
		if cashier != nil {
			return *cashier
		}
		return Person{DisplayName: UnknownCashier}
	}
	if p.DisplayName != "" {
		return p
	}
	// A bare id or a nameless object: borrow the cashier's name only when it
	// is the same person (or the cashier has no id to compare).
	if cashier != nil && cashier.DisplayName != UnknownCashier && (cashier.ID == "" || cashier.ID == p.ID) {
		p.DisplayName = cashier.DisplayName
		if p.Username == "" {
			p.Username = cashier.Username
		}
		return p
	}
	p.DisplayName = UnknownCashier
	return p
}

// parsePerson decodes a user reference that may be a bare id (string or
// number), an object, or missing. ok is false when nothing usable is there.
// DisplayName is left empty when the reference carries no name at all.
func parsePerson(raw json.RawMessage) (Person, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Person{}, false
	}

	if raw[0] != '{' {
		var id backend.FlexString
		_ = json.Unmarshal(raw, &id)
		if id == "" {
			return Person{}, false
		}
		return Person{ID: id.String()}, true
	}

	var obj struct {
		ID          backend.FlexString `json:"id"`
		MgoID       backend.FlexString `json:"_id"`
		Username    backend.FlexString `json:"username"`
		FullName    backend.FlexString `json:"fullName"`
		FullNameAlt backend.FlexString `json:"full_name"`
		Name        backend.FlexString `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Person{}, false
	}

	p := Person{ID: obj.ID.String(), Username: obj.Username.String()}
	if p.ID == "" {
		p.ID = obj.MgoID.String()
	}
	for _, n := range []backend.FlexString{obj.FullName, obj.FullNameAlt, obj.Name, obj.Username} {
		if n != "" {
			p.DisplayName = n.String()
			break
		}
	}
	if p.ID == "" && p.DisplayName == "" {
		return Person{}, false
	}
	return p, true
}

// SnapshotOrder normalizes an order read on its own, outside any
// cancellation row.
func SnapshotOrder(o backend.RawOrder) OrderSnapshot {
	return normalizeOrder(backend.RawCancellation{Order: &o}, nil)
}
