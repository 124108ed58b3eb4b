package main

import (
	"fmt"

	"github.com/ppiankov/kohai/internal/config"
	"github.com/ppiankov/kohai/internal/engine"
	"github.com/ppiankov/kohai/internal/store"
)

// app bundles the config, store, and pipeline every subcommand needs.
type app struct {
	cfg      *config.Config
	store    *store.Store
	pipeline *engine.Pipeline
}

func bootstrap() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Storage.DBPath, err)
	}

	return &app{
		cfg:      cfg,
		store:    st,
		pipeline: engine.NewPipeline(cfg, st),
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}
