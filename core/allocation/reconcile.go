package allocation

import (
	"encoding/json"
	"time"

	"github.com/reliefops/aidchain/core/ledger"
	"github.com/reliefops/aidchain/core/model"
)

type allocatedArgs struct {
	DisasterID   string `json:"disaster_id"`
	ResourceType string `json:"resource_type"`
	Quantity     int    `json:"quantity"`
}

type deliveryArgs struct {
	ResourceID string  `json:"resource_id"`
	Status     string  `json:"status"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// HandleLedgerEvent applies a contract event to the local records. Events
// include transactions this process never submitted: other coordinator
// instances and direct ledger interactions also write allocations, and the
// ledger, not this process, is the source of truth.
func (c *Coordinator) HandleLedgerEvent(ev ledger.Event) {
	switch ev.EventName {
	case EventResourcesAllocated:
		c.applyAllocated(ev)
	case EventDeliveryUpdated:
		c.applyDelivery(ev)
	default:
		c.log.Debugf("ignoring ledger event %s", ev.EventName)
	}
}

func (c *Coordinator) applyAllocated(ev ledger.Event) {
	var args allocatedArgs
	if err := json.Unmarshal(ev.Args, &args); err != nil {
		c.log.Errorf("decode %s args: %v", ev.EventName, err)
		return
	}
	rt := model.ResourceType(args.ResourceType)
	candidates, err := c.store.FindAllocatable(args.DisasterID, rt)
	if err != nil {
		c.log.Errorf("reconcile lookup: %v", err)
		return
	}
	for _, r := range candidates {
		// Our own allocation already carries this hash; BindTx is a no-op
		// then. A foreign allocation claims the first free resource.
		if r.LedgerTxHash == ev.TxHash {
			return
		}
	}
	for _, r := range candidates {
		if r.Status != model.StatusAvailable {
			continue
		}
		if !c.acquire(r.ID) {
			continue
		}
		defer c.release(r.ID)
		if err := r.Transition(model.StatusAllocated, r.CurrentLocation, time.Now()); err != nil {
			c.log.Errorf("reconcile transition: %v", err)
			return
		}
		if err := r.BindTx(ev.TxHash); err != nil {
			c.log.Errorf("reconcile bind: %v", err)
			return
		}
		r.AssignedDisaster = args.DisasterID
		if err := c.store.PutResource(r); err != nil {
			c.log.Errorf("reconcile store: %v", err)
			return
		}
		c.log.Infof("reconciled foreign allocation tx %s onto resource %s", ev.TxHash, r.ID)
		return
	}
	c.log.Warnf("no local resource to reconcile %s event tx %s", ev.EventName, ev.TxHash)
}

func (c *Coordinator) applyDelivery(ev ledger.Event) {
	var args deliveryArgs
	if err := json.Unmarshal(ev.Args, &args); err != nil {
		c.log.Errorf("decode %s args: %v", ev.EventName, err)
		return
	}
	r, err := c.store.GetResource(args.ResourceID)
	if err != nil {
		c.log.Warnf("delivery event for unknown resource %s", args.ResourceID)
		return
	}
	next := model.ResourceStatus(args.Status)
	if r.Status == next {
		return // already applied, our own write
	}
	loc := model.GeoPoint{Lat: args.Lat, Lon: args.Lon}
	if err := r.Transition(next, loc, time.Now()); err != nil {
		c.log.Errorf("reconcile delivery: %v", err)
		return
	}
	if err := c.store.PutResource(r); err != nil {
		c.log.Errorf("reconcile store: %v", err)
	}
}
