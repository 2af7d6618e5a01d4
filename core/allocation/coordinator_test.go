package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reliefops/aidchain/core/ledger"
	"github.com/reliefops/aidchain/core/model"
	"github.com/reliefops/aidchain/core/registry"
	"github.com/reliefops/aidchain/infra/logger"
)

// fakeLedger implements ledger.Client for coordinator tests.
type fakeLedger struct {
	mu          sync.Mutex
	submits     int32
	submitErr   error
	submitDelay time.Duration
	queryResult json.RawMessage
	queryErr    error
	receipt     ledger.Receipt
}

func (f *fakeLedger) Submit(ctx context.Context, contract, method string, args []any, signer string) (ledger.TxHandle, error) {
	atomic.AddInt32(&f.submits, 1)
	if f.submitDelay > 0 {
		time.Sleep(f.submitDelay)
	}
	if f.submitErr != nil {
		return ledger.TxHandle{}, f.submitErr
	}
	return ledger.TxHandle{Hash: f.receipt.TxHash, Contract: contract, Method: method}, nil
}

func (f *fakeLedger) AwaitInclusion(ctx context.Context, tx ledger.TxHandle) (ledger.Receipt, error) {
	return f.receipt, nil
}

func (f *fakeLedger) Subscribe(contract, event string, h ledger.EventHandler) error { return nil }

func (f *fakeLedger) Query(ctx context.Context, contract, method string, args []any) (json.RawMessage, error) {
	return f.queryResult, f.queryErr
}

func newFixture(t *testing.T) (*Coordinator, *fakeLedger, *registry.MemoryStore) {
	t.Helper()
	cli := &fakeLedger{receipt: ledger.Receipt{TxHash: "0xaaa", BlockNumber: 7, FeeUsed: 21000}}
	store := registry.NewMemoryStore()
	require.NoError(t, store.PutDisaster(model.Disaster{
		ID: "disaster-42", Type: model.DisasterEarthquake, Severity: 4,
		Location: model.GeoArea{Center: model.GeoPoint{Lat: 37.7, Lon: -122.4}, RadiusM: 2000},
		Status:   model.DisasterActive,
		Requirements: []model.ResourceRequirement{
			{ResourceType: model.ResourceMedical, Quantity: 10, Urgency: model.UrgencyCritical},
		},
	}))
	require.NoError(t, store.PutResource(model.Resource{
		ID: "res-1", Type: model.ResourceMedical, Quantity: 10,
		CurrentLocation: model.GeoPoint{Lat: 37.8, Lon: -122.3},
		Destination:     model.GeoPoint{Lat: 37.7, Lon: -122.4},
		Status:          model.StatusAvailable,
	}))
	coord, err := New(cli, store, nil, nil, logger.NopLogger{})
	require.NoError(t, err)
	return coord, cli, store
}

func TestAllocateSuccess(t *testing.T) {
	coord, cli, store := newFixture(t)
	res, err := coord.Allocate(context.Background(), "disaster-42", model.ResourceMedical, 10, "wallet-A")
	require.NoError(t, err)
	require.Equal(t, "0xaaa", res.TxHash)
	require.Equal(t, uint64(7), res.BlockNumber)
	require.EqualValues(t, 1, cli.submits)

	r, err := store.GetResource("res-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusAllocated, r.Status)
	require.Equal(t, "0xaaa", r.LedgerTxHash)
	require.Equal(t, "disaster-42", r.AssignedDisaster)
	require.Len(t, r.History, 1)

	d, err := store.GetDisaster("disaster-42")
	require.NoError(t, err)
	require.True(t, d.Requirements[0].Fulfilled)
}

func TestAllocateInsufficientFundsLeavesState(t *testing.T) {
	coord, cli, store := newFixture(t)
	cli.submitErr = ledger.ErrInsufficientFunds

	_, err := coord.Allocate(context.Background(), "disaster-42", model.ResourceMedical, 10, "wallet-A")
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	r, err := store.GetResource("res-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusAvailable, r.Status)
	require.Empty(t, r.LedgerTxHash)
	require.Empty(t, r.History)
}

func TestAllocateIdempotent(t *testing.T) {
	coord, cli, _ := newFixture(t)
	_, err := coord.Allocate(context.Background(), "disaster-42", model.ResourceMedical, 10, "wallet-A")
	require.NoError(t, err)

	_, err = coord.Allocate(context.Background(), "disaster-42", model.ResourceMedical, 10, "wallet-A")
	require.ErrorIs(t, err, ErrAlreadyAllocated)
	require.EqualValues(t, 1, cli.submits, "duplicate call must not submit again")
}

func TestAllocateConcurrentSingleSubmission(t *testing.T) {
	coord, cli, _ := newFixture(t)
	cli.submitDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Allocate(context.Background(), "disaster-42", model.ResourceMedical, 10, "wallet-A")
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, cli.submits, "exactly one ledger submission")
	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyAllocated):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, already)
}

func TestAllocateValidation(t *testing.T) {
	coord, cli, _ := newFixture(t)
	_, err := coord.Allocate(context.Background(), "disaster-42", model.ResourceMedical, 0, "wallet-A")
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = coord.Allocate(context.Background(), "disaster-42", "antimatter", 1, "wallet-A")
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.EqualValues(t, 0, cli.submits)
}

func TestAllocateNoCandidate(t *testing.T) {
	coord, _, _ := newFixture(t)
	_, err := coord.Allocate(context.Background(), "disaster-42", model.ResourceFood, 1, "wallet-A")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestResourceStatusQuery(t *testing.T) {
	coord, cli, _ := newFixture(t)
	cli.queryResult = json.RawMessage(`2`)
	st, err := coord.ResourceStatus(context.Background(), "res-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusInTransit, st.Status)
	require.True(t, st.LastUpdated.IsZero(), "no transition recorded yet")

	cli.queryErr = ledger.ErrNotFound
	_, err = coord.ResourceStatus(context.Background(), "res-missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestResourceStatusCarriesLastUpdated(t *testing.T) {
	coord, cli, store := newFixture(t)
	_, err := coord.Allocate(context.Background(), "disaster-42", model.ResourceMedical, 10, "wallet-A")
	require.NoError(t, err)

	cli.queryResult = json.RawMessage(`1`)
	st, err := coord.ResourceStatus(context.Background(), "res-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusAllocated, st.Status)

	r, err := store.GetResource("res-1")
	require.NoError(t, err)
	require.Equal(t, r.History[len(r.History)-1].Timestamp, st.LastUpdated)
}

func TestUpdateDeliveryStatus(t *testing.T) {
	coord, _, store := newFixture(t)
	_, err := coord.Allocate(context.Background(), "disaster-42", model.ResourceMedical, 10, "wallet-A")
	require.NoError(t, err)

	tx, err := coord.UpdateDeliveryStatus(context.Background(), "res-1", model.StatusInTransit,
		model.GeoPoint{Lat: 37.75, Lon: -122.35}, "wallet-A")
	require.NoError(t, err)
	require.Equal(t, "0xaaa", tx)

	r, err := store.GetResource("res-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusInTransit, r.Status)
	require.NotNil(t, r.Delivery.DispatchedAt)

	// Backward transition is rejected before touching the ledger.
	_, err = coord.UpdateDeliveryStatus(context.Background(), "res-1", model.StatusAvailable,
		model.GeoPoint{}, "wallet-A")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHandleLedgerEventForeignAllocation(t *testing.T) {
	coord, _, store := newFixture(t)
	args, _ := json.Marshal(allocatedArgs{DisasterID: "disaster-42", ResourceType: "medical", Quantity: 10})
	coord.HandleLedgerEvent(ledger.Event{
		TxHash:      "0xforeign",
		BlockNumber: 12,
		EventName:   EventResourcesAllocated,
		Args:        args,
	})
	r, err := store.GetResource("res-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusAllocated, r.Status)
	require.Equal(t, "0xforeign", r.LedgerTxHash)
}
