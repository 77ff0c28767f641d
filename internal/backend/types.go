package backend

import "encoding/json"

// RawCancellation is a cancelled-orders row exactly as the backend sends it.
// CancelledBy, ApprovedBy and RejectedBy may be a bare id, an object with
// id/username/name variants, or missing; they are left raw for the normalizer.
type RawCancellation struct {
	ID              FlexString      `json:"id"`
	MgoID           FlexString      `json:"_id"`
	OrderID         FlexString      `json:"order_id"`
	Order           *RawOrder       `json:"order"`
	CancelledBy     json.RawMessage `json:"cancelled_by"`
	Reason          FlexString      `json:"reason"`
	CancelledAt     Timestamp       `json:"cancelled_at"`
	CreatedAt       Timestamp       `json:"created_at"`
	Status          FlexString      `json:"status"`
	ApprovedBy      json.RawMessage `json:"approved_by"`
	ApprovedAt      Timestamp       `json:"approved_at"`
	RejectedBy      json.RawMessage `json:"rejected_by"`
	RejectedAt      Timestamp       `json:"rejected_at"`
	RejectionReason FlexString      `json:"rejection_reason"`
}

// Key returns the row id, falling back to the document-store style "_id".
func (r RawCancellation) Key() string {
	if r.ID != "" {
		return r.ID.String()
	}
	return r.MgoID.String()
}

// OrderKey returns the referenced order id, preferring the explicit column
// over the embedded order object.
func (r RawCancellation) OrderKey() string {
	if r.OrderID != "" {
		return r.OrderID.String()
	}
	if r.Order != nil {
		return r.Order.Key()
	}
	return ""
}

// RawOrder is the order payload from GET /orders/{id}, and also the partial
// order some cancellation rows embed.
type RawOrder struct {
	ID            FlexString      `json:"id"`
	MgoID         FlexString      `json:"_id"`
	CustomerName  FlexString      `json:"customer_name"`
	CustomerPhone FlexString      `json:"customer_phone"`
	OrderType     FlexString      `json:"order_type"`
	TotalPrice    Money           `json:"total_price"`
	CreatedAt     Timestamp       `json:"created_at"`
	TableNumber   FlexString      `json:"table_number"`
	Status        FlexString      `json:"status"`
	Cashier       json.RawMessage `json:"cashier"`
}

func (o RawOrder) Key() string {
	if o.ID != "" {
		return o.ID.String()
	}
	return o.MgoID.String()
}

type RawOrderItem struct {
	ID          FlexString     `json:"id"`
	ProductName FlexString     `json:"product_name"`
	Product     *RawProductRef `json:"product"`
	Size        FlexString     `json:"size"`
	Price       Money          `json:"price"`
	Quantity    FlexInt        `json:"quantity"`
	Extras      []RawExtra     `json:"extras"`
}

type RawProductRef struct {
	Name FlexString `json:"name"`
}

type RawExtra struct {
	Name  FlexString `json:"name"`
	Price Money      `json:"price"`
}

// Pagination is the optional paging block next to list data.
type Pagination struct {
	Page       FlexInt `json:"page"`
	Limit      FlexInt `json:"limit"`
	Total      FlexInt `json:"total"`
	TotalPages FlexInt `json:"total_pages"`
}

// CancellationPage is one page of GET /cancelled-orders.
type CancellationPage struct {
	Rows []RawCancellation
	// Received counts rows in the payload, including rows that failed to
	// decode and were dropped. Short-page detection uses it.
	Received   int
	Pagination *Pagination
}

// envelope is the {success, data} wrapper every endpoint uses.
type envelope struct {
	Success    *bool           `json:"success"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Pagination *Pagination     `json:"pagination"`
}

type approveRequest struct {
	ApprovedBy string `json:"approved_by"`
}

type rejectRequest struct {
	RejectedBy      string `json:"rejected_by"`
	RejectionReason string `json:"rejection_reason"`
}
