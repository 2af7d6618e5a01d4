package events

import "github.com/reliefops/aidchain/core/model"

// AllocationEvent is published when an allocation transaction settles, for
// better or worse.
type AllocationEvent struct {
	DisasterID   string
	ResourceID   string
	ResourceType model.ResourceType
	Quantity     int
	TxHash       string
	Err          error
}
