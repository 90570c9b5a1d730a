package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lalith-99/capyboard/internal/board"
)

// runState prints the resolved state once. Like a GET, it seeds an empty
// store with the placeholder message.
func runState(ctx context.Context, cfgFile string, out io.Writer) error {
	cfg, logger, err := loadConfigAndLogger(cfgFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer store.Close()

	opts, err := boardOptions(cfg, logger, nil)
	if err != nil {
		return err
	}
	svc, err := board.NewService(store.repo, opts...)
	if err != nil {
		return fmt.Errorf("create board service: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(svc.GetState(ctx)); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
