package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/spiralos/guardian/internal/config"
	"github.com/spiralos/guardian/internal/deduplication"
	"github.com/spiralos/guardian/internal/detection"
	"github.com/spiralos/guardian/internal/metrics"
	"github.com/spiralos/guardian/internal/notify"
	"github.com/spiralos/guardian/internal/regulation"
	"github.com/spiralos/guardian/internal/scanner"
	"github.com/spiralos/guardian/internal/storage"
)

// engine is the wired set of components shared by serve, scan and regulate
type engine struct {
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	notifier   *notify.Fanout
	dispatcher *regulation.Dispatcher
	regulator  *regulation.Regulator
	scanner    *scanner.Scanner

	closeNotifier func() error
}

func newEngine(cfg *config.Config, store storage.Storage) (*engine, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	notifier, closeNotifier, err := notify.New(cfg.Notify, m)
	if err != nil {
		return nil, err
	}

	dispatcher, err := regulation.NewDispatcher(&regulation.DispatcherConfig{
		Store:    store,
		Notifier: notifier,
		Metrics:  m,
		Config:   cfg.Regulation,
	})
	if err != nil {
		_ = closeNotifier()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	regulator := regulation.NewRegulator(store, dispatcher, notifier, m)

	gate, err := deduplication.NewGate(store, cfg.Deduplication)
	if err != nil {
		_ = closeNotifier()
		return nil, fmt.Errorf("failed to create deduplication gate: %w", err)
	}

	sc, err := scanner.New(&scanner.ScannerConfig{
		Store:      store,
		Detectors:  detection.NewSet(store, store, detection.WithTimeout(cfg.Storage.OpTimeout)),
		Thresholds: cfg.Thresholds,
		Dedup:      gate,
		Regulator:  regulator,
		Notifier:   notifier,
		Metrics:    m,
		Config:     cfg.Scanner,
	})
	if err != nil {
		_ = closeNotifier()
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	return &engine{
		registry:      registry,
		metrics:       m,
		notifier:      notifier,
		dispatcher:    dispatcher,
		regulator:     regulator,
		scanner:       sc,
		closeNotifier: closeNotifier,
	}, nil
}

// Close waits for in-flight regulations and releases the notifier
func (e *engine) Close() {
	e.scanner.Wait()
	if err := e.closeNotifier(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close notifier: %v\n", err)
	}
}
