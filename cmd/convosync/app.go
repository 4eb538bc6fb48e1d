package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/convosync/convosync/internal/blob/gist"
	"github.com/convosync/convosync/internal/config"
	"github.com/convosync/convosync/internal/logging"
	"github.com/convosync/convosync/internal/orchestrator"
	"github.com/convosync/convosync/internal/store"
)

// app holds the composition root: every singleton-by-wiring component of
// one convosync process.
type app struct {
	cfg    *config.Config
	logW   io.Writer
	store  *store.Store
	client *gist.Client
	orch   *orchestrator.Orchestrator
}

// newApp wires the core components from configuration. events may be nil.
func newApp(events orchestrator.Events) (*app, error) {
	cfg, err := config.Load(dataDirFlag)
	if err != nil {
		return nil, err
	}

	logW := logging.Writer(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	st, err := store.Open(cfg.DBPath, logging.New(logW, "[store] "))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.InitSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	client, err := gist.New(gist.Config{
		APIBase:     cfg.Gist.APIBase,
		Description: cfg.Gist.Description,
		Filename:    cfg.Gist.Filename,
		OwnerTag:    cfg.Gist.OwnerTag,
		TokenPath:   cfg.TokenPath,
		Timeout:     cfg.Gist.Timeout(),
		Logger:      logging.New(logW, "[gist] "),
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create gist client: %w", err)
	}

	orch := orchestrator.New(st, client, &orchestrator.Config{
		DebounceInterval: cfg.Sync.Debounce(),
		ChangeThreshold:  cfg.Sync.ChangeThreshold,
		MinSyncInterval:  cfg.Sync.MinInterval(),
		MaxAttempts:      cfg.Sync.MaxAttempts,
		RetryBackoff:     cfg.Sync.RetryBackoff(),
		OwnerTag:         cfg.Gist.OwnerTag,
		DeviceID:         cfg.DeviceID,
		Logger:           logging.New(logW, "[orchestrator] "),
	}, events)

	return &app{
		cfg:    cfg,
		logW:   logW,
		store:  st,
		client: client,
		orch:   orch,
	}, nil
}

// logger returns a component logger on the app's shared writer.
func (a *app) logger(prefix string) *log.Logger {
	return logging.New(a.logW, prefix)
}

// close releases resources in dependency order.
func (a *app) close() {
	a.orch.Close()
	if err := a.store.Close(); err != nil {
		a.logger("[app] ").Printf("Error closing store: %v", err)
	}
}
