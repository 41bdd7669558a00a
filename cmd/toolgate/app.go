package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wilhg/toolgate/internal/config"
	"github.com/wilhg/toolgate/pkg/adapter/builtin"
	"github.com/wilhg/toolgate/pkg/gateway"
	"github.com/wilhg/toolgate/pkg/journal"
	"github.com/wilhg/toolgate/pkg/journal/sqljournal"
)

// app is an opened gateway plus the resources it owns.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	gw      *gateway.Gateway
	closers []func(context.Context) error
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// openApp opens the configured interfaces, or only the one named by only.
func openApp(ctx context.Context, cmd *cobra.Command, only string) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: config.NewLogger(cfg.Log, cmd.ErrOrStderr())}

	j, err := a.openJournal(ctx)
	if err != nil {
		return nil, err
	}
	a.gw = gateway.New(builtin.NewRegistry(), gateway.WithLogger(a.logger), gateway.WithJournal(j))

	ifaces := cfg.Interfaces
	if only != "" {
		ifaces = nil
		for _, ic := range cfg.Interfaces {
			name := ic.Name
			if name == "" {
				name = ic.Protocol
			}
			if name == only {
				ifaces = append(ifaces, ic)
			}
		}
		if len(ifaces) == 0 {
			a.close(ctx)
			return nil, fmt.Errorf("interface %q is not configured", only)
		}
	}
	if err := a.gw.Open(ctx, ifaces...); err != nil {
		a.close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, a.gw.Close)
	return a, nil
}

func (a *app) openJournal(ctx context.Context) (journal.Journal, error) {
	if a.cfg.Journal.DatabaseURL == "" {
		return journal.NewMemory(a.cfg.Journal.MaxEntries), nil
	}
	st, err := sqljournal.Open(ctx, a.cfg.Journal.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })
	return st, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.WarnContext(ctx, "shutdown", "error", err)
		}
	}
	a.closers = nil
}
