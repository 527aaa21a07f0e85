package main

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/crewbridge/internal/bridge"
	"github.com/mtzanidakis/crewbridge/internal/config"
	"github.com/mtzanidakis/crewbridge/internal/health"
	"github.com/mtzanidakis/crewbridge/internal/invoker"
	"github.com/mtzanidakis/crewbridge/internal/natsbus"
	"github.com/mtzanidakis/crewbridge/internal/registry"
	"github.com/mtzanidakis/crewbridge/internal/store"
	"github.com/mtzanidakis/crewbridge/internal/vault"
	"github.com/mtzanidakis/crewbridge/internal/workflow"
)

// app holds the components shared by the gateway and the one-shot
// commands.
type app struct {
	registry *registry.Registry
	monitor  *health.Monitor
	secrets  *vault.Secrets
	bridge   *bridge.Bridge
}

// newApp builds the bridge from configuration. db and events may be nil:
// without a store nothing is recorded and secret references cannot be
// resolved, without events nothing is published.
func newApp(cfg *config.Config, db *store.Store, events *natsbus.Client) (*app, error) {
	reg, err := registry.New(cfg.Agents, cfg.Workflows)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	var secrets *vault.Secrets
	if db != nil {
		var v *vault.Vault
		if cfg.Vault.Passphrase != "" {
			v = vault.New(cfg.Vault.Passphrase)
		}
		secrets = vault.NewSecrets(v, db)
	}

	token := cfg.Bridge.AuthToken
	if strings.HasPrefix(token, vault.RefPrefix) {
		if secrets == nil {
			return nil, fmt.Errorf("resolve auth token: store not available")
		}
		if token, err = secrets.Resolve(token); err != nil {
			return nil, err
		}
	}

	// A nil *natsbus.Client must not become a non-nil interface.
	var pub natsbus.Publisher
	if events != nil {
		pub = events
	}

	inv := invoker.New(reg, invoker.Options{
		BaseURL:         cfg.Bridge.BaseURL,
		Timeout:         cfg.Bridge.Timeout,
		AuthToken:       token,
		DefaultLanguage: cfg.Bridge.DefaultLanguage,
		Events:          pub,
	})
	eng := workflow.NewEngine(reg, inv, pub)
	mon := health.NewMonitor(reg, health.Options{
		BaseURL:  cfg.Bridge.BaseURL,
		Path:     cfg.Bridge.HealthPath,
		Timeout:  cfg.Bridge.HealthTimeout,
		Interval: cfg.Bridge.HealthInterval,
		Events:   pub,
	})

	var runs bridge.RunStore
	if db != nil {
		runs = db
	}

	return &app{
		registry: reg,
		monitor:  mon,
		secrets:  secrets,
		bridge:   bridge.New(reg, inv, eng, mon, runs),
	}, nil
}
