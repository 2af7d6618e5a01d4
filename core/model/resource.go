package model

import (
	"fmt"
	"time"
)

// ResourceType categorizes a deliverable resource.
type ResourceType string

const (
	ResourceMedical   ResourceType = "medical"
	ResourceFood      ResourceType = "food"
	ResourceWater     ResourceType = "water"
	ResourceShelter   ResourceType = "shelter"
	ResourceEquipment ResourceType = "equipment"
	ResourcePersonnel ResourceType = "personnel"
)

var knownResourceTypes = map[ResourceType]bool{
	ResourceMedical:   true,
	ResourceFood:      true,
	ResourceWater:     true,
	ResourceShelter:   true,
	ResourceEquipment: true,
	ResourcePersonnel: true,
}

// KnownResourceType reports whether t is a recognized category.
func KnownResourceType(t ResourceType) bool { return knownResourceTypes[t] }

// ResourceStatus is the delivery lifecycle state. The order is strict:
// available -> allocated -> in-transit -> delivered. A resource may move to
// returned from any state except delivered.
type ResourceStatus string

const (
	StatusAvailable ResourceStatus = "available"
	StatusAllocated ResourceStatus = "allocated"
	StatusInTransit ResourceStatus = "in-transit"
	StatusDelivered ResourceStatus = "delivered"
	StatusReturned  ResourceStatus = "returned"
)

var resourceStatusRank = map[ResourceStatus]int{
	StatusAvailable: 0,
	StatusAllocated: 1,
	StatusInTransit: 2,
	StatusDelivered: 3,
}

// CanTransition reports whether moving from s to next is a legal forward
// step of the delivery lifecycle.
func (s ResourceStatus) CanTransition(next ResourceStatus) bool {
	if next == StatusReturned {
		return s != StatusDelivered && s != StatusReturned
	}
	cur, ok := resourceStatusRank[s]
	if !ok {
		return false
	}
	nxt, ok := resourceStatusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Priority ranks a resource for dispatch ordering.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityMedium    Priority = "medium"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// Supplier identifies the provider of a resource. ReliabilityRating is in
// [0,5] and breaks distance ties during matching.
type Supplier struct {
	Name              string  `json:"name"`
	Email             string  `json:"email,omitempty"`
	Phone             string  `json:"phone,omitempty"`
	Address           string  `json:"address,omitempty"`
	ReliabilityRating float64 `json:"reliability_rating"`
}

// Delay records a deviation from the delivery timeline.
type Delay struct {
	Reason      string    `json:"reason"`
	DurationMin int       `json:"duration_min"`
	Timestamp   time.Time `json:"timestamp"`
}

// DeliveryTimeline tracks dispatch and arrival milestones.
type DeliveryTimeline struct {
	DispatchedAt     *time.Time `json:"dispatched_at,omitempty"`
	EstimatedArrival *time.Time `json:"estimated_arrival,omitempty"`
	ActualArrival    *time.Time `json:"actual_arrival,omitempty"`
	Delays           []Delay    `json:"delays,omitempty"`
}

// HistoryEntry is one observed status change of a resource.
type HistoryEntry struct {
	Status    ResourceStatus `json:"status"`
	Location  GeoPoint       `json:"location"`
	Timestamp time.Time      `json:"timestamp"`
}

// Resource is a deliverable stock item tracked on the ledger.
type Resource struct {
	ID               string           `json:"id"`
	Type             ResourceType     `json:"type"`
	Quantity         int              `json:"quantity"`
	CurrentLocation  GeoPoint         `json:"current_location"`
	Destination      GeoPoint         `json:"destination"`
	Status           ResourceStatus   `json:"status"`
	Priority         Priority         `json:"priority"`
	Supplier         Supplier         `json:"supplier"`
	AssignedDisaster string           `json:"assigned_disaster,omitempty"`
	Delivery         DeliveryTimeline `json:"delivery"`
	History          []HistoryEntry   `json:"history,omitempty"`

	// LedgerTxHash is set exactly once, on the first confirmed allocation
	// transaction. It anchors idempotency.
	LedgerTxHash string `json:"ledger_tx_hash,omitempty"`
}

// Validate checks the invariants the coordinator relies on.
func (r Resource) Validate() error {
	if r.Quantity < 1 {
		return fmt.Errorf("quantity must be >= 1, got %d", r.Quantity)
	}
	if !KnownResourceType(r.Type) {
		return fmt.Errorf("unknown resource type %q", r.Type)
	}
	return nil
}

// Transition moves the resource to next, appending a history entry. The
// forward-only ordering is enforced here; callers never mutate Status
// directly.
func (r *Resource) Transition(next ResourceStatus, loc GeoPoint, now time.Time) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("resource %s: cannot go from %s to %s", r.ID, r.Status, next)
	}
	r.Status = next
	r.History = append(r.History, HistoryEntry{Status: next, Location: loc, Timestamp: now})
	switch next {
	case StatusInTransit:
		if r.Delivery.DispatchedAt == nil {
			t := now
			r.Delivery.DispatchedAt = &t
		}
	case StatusDelivered:
		t := now
		r.Delivery.ActualArrival = &t
	}
	return nil
}

// BindTx records the allocation transaction hash. A second bind with a
// different hash is an error; rebinding the same hash is a no-op.
func (r *Resource) BindTx(hash string) error {
	if r.LedgerTxHash == "" {
		r.LedgerTxHash = hash
		return nil
	}
	if r.LedgerTxHash != hash {
		return fmt.Errorf("resource %s already bound to tx %s", r.ID, r.LedgerTxHash)
	}
	return nil
}
