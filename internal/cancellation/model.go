package cancellation

import (
	"time"

	"github.com/kiwari-pos/canceldesk/internal/enum"
	"github.com/shopspring/decimal"
)

// Status is the canonical cancel request status. Raw backend tokens never
// get past Normalize.
type Status string

const (
	StatusPending  Status = enum.CancelStatusPending
	StatusApproved Status = enum.CancelStatusApproved
	StatusRejected Status = enum.CancelStatusRejected
)

// ReasonKind tells a system-generated cancellation (the cashier pressed the
// in-app cancel button) apart from a free-text reason typed by a person.
type ReasonKind string

const (
	ReasonCashierInitiated ReasonKind = "CASHIER_INITIATED"
	ReasonFreeText         ReasonKind = "FREE_TEXT"
)

// UnknownCashier is the display name used when no name field can be found.
const UnknownCashier = "unknown cashier"

type Person struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name"`
}

type OrderSnapshot struct {
	ID            string          `json:"id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	OrderType     string          `json:"order_type"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	CreatedAt     time.Time       `json:"created_at"`
	TableNumber   string          `json:"table_number,omitempty"`
	Status        string          `json:"status"`
	Cashier       *Person         `json:"cashier,omitempty"`
}

type Extra struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type OrderLineItem struct {
	ID          string          `json:"id"`
	ProductName string          `json:"product_name"`
	Size        string          `json:"size,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Extras      []Extra         `json:"extras"`
}

// CancelRequest is the canonical cancellation request the desk operates on.
type CancelRequest struct {
	ID              string          `json:"id"`
	Order           OrderSnapshot   `json:"order"`
	Items           []OrderLineItem `json:"items"`
	RequestedBy     Person          `json:"requested_by"`
	Reason          string          `json:"reason"`
	ReasonKind      ReasonKind      `json:"reason_kind"`
	RequestedAt     time.Time       `json:"requested_at"`
	Status          Status          `json:"status"`
	ApprovedBy      *Person         `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedBy      *Person         `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`

	// IsSuperseded marks a row that lost to another request for the same order.
	IsSuperseded bool `json:"is_superseded"`
	// IsLocallyProcessed blocks a second action until a full refresh replaces
	// the row with backend state.
	IsLocallyProcessed bool `json:"is_locally_processed"`
}

// Clone returns a copy that shares no slices or pointers with r.
func (r CancelRequest) Clone() CancelRequest {
	out := r
	if r.Items != nil {
		out.Items = make([]OrderLineItem, len(r.Items))
		for i, it := range r.Items {
			extras := make([]Extra, len(it.Extras))
			copy(extras, it.Extras)
			it.Extras = extras
			out.Items[i] = it
		}
	}
	if r.Order.Cashier != nil {
		c := *r.Order.Cashier
		out.Order.Cashier = &c
	}
	out.ApprovedBy = clonePerson(r.ApprovedBy)
	out.RejectedBy = clonePerson(r.RejectedBy)
	out.ApprovedAt = cloneTime(r.ApprovedAt)
	out.RejectedAt = cloneTime(r.RejectedAt)
	return out
}

func clonePerson(p *Person) *Person {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// CloneAll deep-copies a working set.
func CloneAll(in []CancelRequest) []CancelRequest {
	out := make([]CancelRequest, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
