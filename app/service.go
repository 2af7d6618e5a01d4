// Package app wires the coordinators, stores and transports into a runnable
// service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/reliefops/aidchain/api/allocations"
	"github.com/reliefops/aidchain/api/drones"
	"github.com/reliefops/aidchain/config"
	"github.com/reliefops/aidchain/core/allocation"
	"github.com/reliefops/aidchain/core/dispatch"
	"github.com/reliefops/aidchain/core/events"
	coreregistry "github.com/reliefops/aidchain/core/registry"
	"github.com/reliefops/aidchain/infra/dronelink"
	infraledger "github.com/reliefops/aidchain/infra/ledger"
	"github.com/reliefops/aidchain/infra/logger"
	"github.com/reliefops/aidchain/infra/metrics"
	infraregistry "github.com/reliefops/aidchain/infra/registry"
	"github.com/reliefops/aidchain/internal/eventbus"
)

// Service orchestrates the allocation and dispatch coordinators.
type Service struct {
	Allocator  *allocation.Coordinator
	Dispatcher *dispatch.Coordinator

	cfg    *config.Config
	ledger *infraledger.Client
	log    logger.Logger

	allocBus     *eventbus.Bus[events.AllocationEvent]
	missionBus   *eventbus.Bus[events.MissionEvent]
	emergencyBus *eventbus.Bus[events.EmergencyEvent]

	closers []func() error
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	applyLogLevel(cfg.Logging.Level)
	log := logger.New("service")

	store, closeStore, err := newStore(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("registry store: %w", err)
	}

	ledgerCli, err := infraledger.New(cfg.Ledger, logger.New("ledger"))
	if err != nil {
		return nil, fmt.Errorf("ledger client: %w", err)
	}

	sink, err := metrics.FromConfig(cfg.Metrics, log)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	allocBus := eventbus.New[events.AllocationEvent]()
	missionBus := eventbus.New[events.MissionEvent]()
	emergencyBus := eventbus.New[events.EmergencyEvent]()

	allocator, err := allocation.New(ledgerCli, store, allocBus, sink, logger.New("allocation"))
	if err != nil {
		return nil, fmt.Errorf("allocation coordinator: %w", err)
	}
	for _, event := range []string{allocation.EventResourcesAllocated, allocation.EventDeliveryUpdated} {
		if err := ledgerCli.Subscribe(allocation.ContractAllocation, event, allocator.HandleLedgerEvent); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", event, err)
		}
	}

	link, err := dronelink.NewFleet(cfg.Fleet)
	if err != nil {
		return nil, fmt.Errorf("fleet link: %w", err)
	}
	dispatcher, err := dispatch.New(link, sink, missionBus, emergencyBus, logger.New("dispatch"))
	if err != nil {
		return nil, fmt.Errorf("dispatch coordinator: %w", err)
	}

	svc := &Service{
		Allocator:    allocator,
		Dispatcher:   dispatcher,
		cfg:          cfg,
		ledger:       ledgerCli,
		log:          log,
		allocBus:     allocBus,
		missionBus:   missionBus,
		emergencyBus: emergencyBus,
	}
	svc.closers = append(svc.closers, dispatcher.Close)
	if closeStore != nil {
		svc.closers = append(svc.closers, closeStore)
	}
	return svc, nil
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func newStore(cfg config.RegistryConfig) (coreregistry.Store, func() error, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := infraregistry.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return coreregistry.NewMemoryStore(), nil, nil
	}
}

// Handler returns the combined HTTP API.
func (s *Service) Handler() http.Handler {
	allocHandler := allocations.NewHandler(s.Allocator)
	droneHandler := drones.NewHandler(s.Dispatcher)
	mux := http.NewServeMux()
	mux.Handle("/api/allocations", allocHandler)
	mux.Handle("/api/resources/", allocHandler)
	mux.Handle("/api/drones", droneHandler)
	mux.Handle("/api/drones/", droneHandler)
	return mux
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go s.ledger.Run(ctx)
	go s.logEvents(ctx)

	for _, fleet := range s.cfg.Fleet {
		for _, deviceID := range fleet.Devices {
			if err := s.Dispatcher.ConnectDevice(ctx, deviceID); err != nil {
				s.log.Errorf("connect device %s: %v", deviceID, err)
			}
		}
	}

	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.cfg.API.Address, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("api listening on %s", s.cfg.API.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// logEvents mirrors coordinator events into the service log.
func (s *Service) logEvents(ctx context.Context) {
	allocCh := s.allocBus.Subscribe()
	missionCh := s.missionBus.Subscribe()
	emergencyCh := s.emergencyBus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-allocCh:
			if !ok {
				return
			}
			if ev.Err != nil {
				s.log.Warnf("allocation of %d %s to %s failed: %v", ev.Quantity, ev.ResourceType, ev.DisasterID, ev.Err)
			} else {
				s.log.Infof("allocated %s to %s, tx %s", ev.ResourceID, ev.DisasterID, ev.TxHash)
			}
		case ev, ok := <-missionCh:
			if !ok {
				return
			}
			s.log.Infof("mission %s on %s is %s", ev.MissionID, ev.DeviceID, ev.Status)
		case ev, ok := <-emergencyCh:
			if !ok {
				return
			}
			if ev.Err != nil {
				s.log.Errorf("emergency on %s: %s ended %s: %v", ev.DeviceID, ev.Procedure, ev.Outcome, ev.Err)
			} else {
				s.log.Warnf("emergency on %s: %s %s", ev.DeviceID, ev.Procedure, ev.Outcome)
			}
		}
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.allocBus.Close()
	s.missionBus.Close()
	s.emergencyBus.Close()
	return firstErr
}
