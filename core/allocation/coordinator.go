// Package allocation implements the allocation coordinator: it turns a
// validated resource request into a signed ledger transaction and reconciles
// the outcome back into the disaster and resource records.
package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reliefops/aidchain/core/events"
	"github.com/reliefops/aidchain/core/geo"
	"github.com/reliefops/aidchain/core/ledger"
	"github.com/reliefops/aidchain/core/logger"
	"github.com/reliefops/aidchain/core/metrics"
	"github.com/reliefops/aidchain/core/model"
	"github.com/reliefops/aidchain/core/registry"
	"github.com/reliefops/aidchain/internal/eventbus"
)

// Contract and method names on the allocation ledger.
const (
	ContractAllocation   = "Allocation"
	methodAllocate       = "allocateResources"
	methodGetStatus      = "getResourceStatus"
	methodUpdateDelivery = "updateDeliveryStatus"
)

// Ledger event names the coordinator reconciles.
const (
	EventResourcesAllocated = "ResourcesAllocated"
	EventDeliveryUpdated    = "DeliveryStatusUpdated"
)

var (
	// ErrInvalidRequest means the caller input is malformed. Never retried.
	ErrInvalidRequest = errors.New("invalid allocation request")

	// ErrAlreadyAllocated means a confirmed allocation already exists for
	// this disaster and resource type, or one is in flight right now.
	ErrAlreadyAllocated = errors.New("resource already allocated")
)

// Result is the confirmed outcome of an allocation transaction.
type Result struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// Coordinator owns the Resource status and LedgerTxHash fields: nothing else
// mutates them. A per-resource in-process lock keeps two allocation attempts
// for the same resource from reaching ledger submission concurrently.
type Coordinator struct {
	ledger ledger.Client
	store  registry.Store
	bus    *eventbus.Bus[events.AllocationEvent]
	sink   metrics.Sink
	log    logger.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates a Coordinator. The bus and sink may be nil.
func New(cli ledger.Client, store registry.Store, bus *eventbus.Bus[events.AllocationEvent], sink metrics.Sink, log logger.Logger) (*Coordinator, error) {
	if cli == nil || store == nil || log == nil {
		return nil, fmt.Errorf("allocation: nil parameter provided to New")
	}
	return &Coordinator{
		ledger:   cli,
		store:    store,
		bus:      bus,
		sink:     sink,
		log:      log,
		inFlight: make(map[string]bool),
	}, nil
}

// acquire marks the resource as having an allocation in flight. Contention is
// rejected, not queued: a losing caller gets ErrAlreadyAllocated and can
// re-read the record once the winner settles.
func (c *Coordinator) acquire(resourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[resourceID] {
		return false
	}
	c.inFlight[resourceID] = true
	return true
}

func (c *Coordinator) release(resourceID string) {
	c.mu.Lock()
	delete(c.inFlight, resourceID)
	c.mu.Unlock()
}

// Allocate submits an allocation transaction for the given disaster and
// resource type, waits for inclusion, and updates the matching resource
// record. Ledger failures leave the record untouched and surface with their
// specific kind.
func (c *Coordinator) Allocate(ctx context.Context, disasterID string, rt model.ResourceType, quantity int, requester string) (Result, error) {
	if quantity < 1 {
		return Result{}, fmt.Errorf("%w: quantity must be >= 1, got %d", ErrInvalidRequest, quantity)
	}
	if !model.KnownResourceType(rt) {
		return Result{}, fmt.Errorf("%w: unknown resource type %q", ErrInvalidRequest, rt)
	}

	disaster, err := c.store.GetDisaster(disasterID)
	if err != nil {
		return Result{}, fmt.Errorf("disaster %s: %w", disasterID, err)
	}

	candidates, err := c.store.FindAllocatable(disasterID, rt)
	if err != nil {
		return Result{}, err
	}
	// Pre-submission existence check: a bound tx hash for this disaster and
	// type means the allocation already happened.
	var available []model.Resource
	for _, r := range candidates {
		if r.AssignedDisaster == disasterID && r.LedgerTxHash != "" {
			return Result{}, fmt.Errorf("%w: %s for disaster %s (tx %s)", ErrAlreadyAllocated, rt, disasterID, r.LedgerTxHash)
		}
		if r.Status == model.StatusAvailable {
			available = append(available, r)
		}
	}
	req := model.ResourceRequirement{ResourceType: rt, Quantity: quantity}
	matched := geo.MatchResources(req, disaster.Location.Center, available)
	if len(matched) == 0 {
		return Result{}, fmt.Errorf("no available %s resource for disaster %s: %w", rt, disasterID, registry.ErrNotFound)
	}
	target := matched[0].Resource

	if !c.acquire(target.ID) {
		return Result{}, fmt.Errorf("%w: allocation in progress for resource %s", ErrAlreadyAllocated, target.ID)
	}
	defer c.release(target.ID)

	// Re-check under the lock; the winner of a race may have settled while
	// this caller was selecting its target.
	target, err = c.store.GetResource(target.ID)
	if err != nil {
		return Result{}, err
	}
	if target.LedgerTxHash != "" {
		return Result{}, fmt.Errorf("%w: resource %s (tx %s)", ErrAlreadyAllocated, target.ID, target.LedgerTxHash)
	}

	start := time.Now()
	handle, err := c.ledger.Submit(ctx, ContractAllocation, methodAllocate,
		[]any{disasterID, string(rt), quantity}, requester)
	if err != nil {
		c.finish(disasterID, target, rt, quantity, "", start, err)
		return Result{}, err
	}
	rcpt, err := c.ledger.AwaitInclusion(ctx, handle)
	if err != nil {
		c.finish(disasterID, target, rt, quantity, "", start, err)
		return Result{}, err
	}

	now := time.Now()
	if err := target.Transition(model.StatusAllocated, target.CurrentLocation, now); err != nil {
		return Result{}, err
	}
	if err := target.BindTx(rcpt.TxHash); err != nil {
		return Result{}, err
	}
	target.AssignedDisaster = disasterID
	if eta := c.estimateArrival(target, now); eta != nil {
		target.Delivery.EstimatedArrival = eta
	}
	if err := c.store.PutResource(target); err != nil {
		return Result{}, err
	}
	disaster.MarkFulfilled(rt, quantity)
	if err := c.store.PutDisaster(disaster); err != nil {
		return Result{}, err
	}

	c.finish(disasterID, target, rt, quantity, rcpt.TxHash, start, nil)
	c.log.Infof("allocated %d %s to disaster %s, tx %s block %d", quantity, rt, disasterID, rcpt.TxHash, rcpt.BlockNumber)
	return Result{TxHash: rcpt.TxHash, BlockNumber: rcpt.BlockNumber}, nil
}

// estimateArrival projects a ground-transport arrival from the resource's
// distance to its destination.
func (c *Coordinator) estimateArrival(r model.Resource, now time.Time) *time.Time {
	distKm := geo.HaversineKm(r.CurrentLocation, r.Destination)
	if distKm == 0 {
		return nil
	}
	const groundSpeedKmh = 60.0
	eta := now.Add(time.Duration(distKm / groundSpeedKmh * float64(time.Hour)))
	return &eta
}

func (c *Coordinator) finish(disasterID string, r model.Resource, rt model.ResourceType, quantity int, txHash string, start time.Time, err error) {
	if c.bus != nil {
		c.bus.Publish(events.AllocationEvent{
			DisasterID:   disasterID,
			ResourceID:   r.ID,
			ResourceType: rt,
			Quantity:     quantity,
			TxHash:       txHash,
			Err:          err,
		})
	}
	if c.sink != nil {
		rec := metrics.AllocationRecord{
			DisasterID:   disasterID,
			ResourceID:   r.ID,
			ResourceType: rt,
			Quantity:     quantity,
			TxHash:       txHash,
			Outcome:      outcomeOf(err),
			Latency:      time.Since(start),
			Time:         start,
		}
		if merr := c.sink.RecordAllocation(rec); merr != nil {
			c.log.Errorf("metrics error: %v", merr)
		}
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrLedgerUnreachable):
		return "unreachable"
	case errors.Is(err, ledger.ErrTransactionFailed):
		return "failed"
	default:
		var rej *ledger.ContractRejectedError
		if errors.As(err, &rej) {
			return "rejected"
		}
		return "error"
	}
}

// statusByCode maps the ledger's numeric status to the model enum, in the
// contract's declaration order.
var statusByCode = []model.ResourceStatus{
	model.StatusAvailable,
	model.StatusAllocated,
	model.StatusInTransit,
	model.StatusDelivered,
	model.StatusReturned,
}

// StatusReport pairs the ledger-confirmed status of a resource with the
// time of its last recorded transition.
type StatusReport struct {
	Status      model.ResourceStatus `json:"status"`
	LastUpdated time.Time            `json:"last_updated"`
}

// ResourceStatus reads the resource's current status from the ledger. The
// last-updated stamp comes from the local record's history; a resource only
// the ledger knows about reports a zero stamp.
func (c *Coordinator) ResourceStatus(ctx context.Context, resourceID string) (StatusReport, error) {
	raw, err := c.ledger.Query(ctx, ContractAllocation, methodGetStatus, []any{resourceID})
	if err != nil {
		return StatusReport{}, err
	}
	var code int
	if err := json.Unmarshal(raw, &code); err != nil {
		return StatusReport{}, fmt.Errorf("decode status for %s: %w", resourceID, err)
	}
	if code < 0 || code >= len(statusByCode) {
		return StatusReport{}, fmt.Errorf("unknown status code %d for %s", code, resourceID)
	}
	report := StatusReport{Status: statusByCode[code]}
	if r, err := c.store.GetResource(resourceID); err == nil && len(r.History) > 0 {
		report.LastUpdated = r.History[len(r.History)-1].Timestamp
	}
	return report, nil
}

// UpdateDeliveryStatus submits a delivery-status transition for the resource
// and, once confirmed, appends it to the local record's history.
func (c *Coordinator) UpdateDeliveryStatus(ctx context.Context, resourceID string, next model.ResourceStatus, loc model.GeoPoint, actor string) (string, error) {
	r, err := c.store.GetResource(resourceID)
	if err != nil {
		return "", fmt.Errorf("resource %s: %w", resourceID, err)
	}
	if !r.Status.CanTransition(next) {
		return "", fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidRequest, r.Status, next)
	}
	handle, err := c.ledger.Submit(ctx, ContractAllocation, methodUpdateDelivery,
		[]any{resourceID, string(next)}, actor)
	if err != nil {
		return "", err
	}
	rcpt, err := c.ledger.AwaitInclusion(ctx, handle)
	if err != nil {
		return "", err
	}
	if err := r.Transition(next, loc, time.Now()); err != nil {
		return "", err
	}
	if err := c.store.PutResource(r); err != nil {
		return "", err
	}
	c.log.Infof("resource %s now %s, tx %s", resourceID, next, rcpt.TxHash)
	return rcpt.TxHash, nil
}
