package allocations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/reliefops/aidchain/core/allocation"
	"github.com/reliefops/aidchain/core/ledger"
	"github.com/reliefops/aidchain/core/model"
	"github.com/reliefops/aidchain/core/registry"
)

type fakeAllocator struct {
	allocateErr error
	status      allocation.StatusReport
	statusErr   error
	updateErr   error

	gotDisaster  string
	gotType      model.ResourceType
	gotQuantity  int
	gotRequester string
	gotNext      model.ResourceStatus
}

func (f *fakeAllocator) Allocate(_ context.Context, disasterID string, rt model.ResourceType, quantity int, requester string) (allocation.Result, error) {
	f.gotDisaster, f.gotType, f.gotQuantity, f.gotRequester = disasterID, rt, quantity, requester
	if f.allocateErr != nil {
		return allocation.Result{}, f.allocateErr
	}
	return allocation.Result{TxHash: "0xbeef", BlockNumber: 7}, nil
}

func (f *fakeAllocator) ResourceStatus(context.Context, string) (allocation.StatusReport, error) {
	return f.status, f.statusErr
}

func (f *fakeAllocator) UpdateDeliveryStatus(_ context.Context, _ string, next model.ResourceStatus, _ model.GeoPoint, _ string) (string, error) {
	f.gotNext = next
	if f.updateErr != nil {
		return "", f.updateErr
	}
	return "0xfeed", nil
}

func postAllocation(t *testing.T, h http.Handler, body, wallet string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/allocations", strings.NewReader(body))
	if wallet != "" {
		req.Header.Set(walletHeader, wallet)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAllocateCreated(t *testing.T) {
	fake := &fakeAllocator{}
	h := NewHandler(fake)
	rr := postAllocation(t, h, `{"disaster_id":"disaster-1","resource_type":"medical","quantity":5}`, "0xwallet")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	var res allocation.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.TxHash != "0xbeef" || res.BlockNumber != 7 {
		t.Fatalf("unexpected result %+v", res)
	}
	if fake.gotRequester != "0xwallet" || fake.gotType != model.ResourceMedical || fake.gotQuantity != 5 {
		t.Fatalf("request not forwarded: %+v", fake)
	}
}

func TestAllocateRequiresWallet(t *testing.T) {
	h := NewHandler(&fakeAllocator{})
	rr := postAllocation(t, h, `{"disaster_id":"d","resource_type":"medical","quantity":1}`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestAllocateErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", allocation.ErrInvalidRequest, http.StatusBadRequest},
		{"funds", ledger.ErrInsufficientFunds, http.StatusPaymentRequired},
		{"notfound", registry.ErrNotFound, http.StatusNotFound},
		{"conflict", allocation.ErrAlreadyAllocated, http.StatusConflict},
		{"rejected", ledger.Rejected("shortage"), http.StatusUnprocessableEntity},
		{"unreachable", ledger.ErrLedgerUnreachable, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&fakeAllocator{allocateErr: tc.err})
			rr := postAllocation(t, h, `{"disaster_id":"d","resource_type":"medical","quantity":1}`, "0xwallet")
			if rr.Code != tc.want {
				t.Fatalf("status %d want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestResourceStatus(t *testing.T) {
	updated := time.Date(2026, 8, 12, 14, 30, 0, 0, time.UTC)
	h := NewHandler(&fakeAllocator{status: allocation.StatusReport{
		Status:      model.StatusInTransit,
		LastUpdated: updated,
	}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/resources/res-1/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out allocation.StatusReport
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != model.StatusInTransit {
		t.Fatalf("unexpected status %v", out)
	}
	if !out.LastUpdated.Equal(updated) {
		t.Fatalf("last_updated %v want %v", out.LastUpdated, updated)
	}
}

func TestDeliveryUpdate(t *testing.T) {
	fake := &fakeAllocator{}
	h := NewHandler(fake)
	req := httptest.NewRequest("PATCH", "/api/resources/res-1/delivery",
		strings.NewReader(`{"status":"in-transit","lat":48.85,"lon":2.35}`))
	req.Header.Set(walletHeader, "0xwallet")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if fake.gotNext != model.StatusInTransit {
		t.Fatalf("transition not forwarded: %s", fake.gotNext)
	}
}

func TestDeliveryUpdateBadBody(t *testing.T) {
	h := NewHandler(&fakeAllocator{})
	req := httptest.NewRequest("PATCH", "/api/resources/res-1/delivery", strings.NewReader(`{`))
	req.Header.Set(walletHeader, "0xwallet")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rr.Code)
	}
}
