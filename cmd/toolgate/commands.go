package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wilhg/toolgate/internal/server"
	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/mcpserver"
	tgotel "github.com/wilhg/toolgate/pkg/otel"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Open every configured interface and serve the HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cmd, "")
			if err != nil {
				return err
			}
			defer a.close(ctx)

			shutdown, err := tgotel.Init(ctx, tgotel.Config{
				ServiceName:    a.cfg.Telemetry.ServiceName,
				ServiceVersion: version,
				UseStdout:      a.cfg.Telemetry.Stdout,
				Writer:         cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			a.closers = append(a.closers, shutdown)

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			return server.New(a.gw, a.logger, version).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newCallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <interface> <tool>",
		Short: "Invoke one tool and print the result as JSON",
		Example: `  toolgate call github request --args '{"method":"GET","path":"/user"}'
  toolgate call minecraft list_players`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("args")
			callArgs := map[string]any{}
			if strings.TrimSpace(raw) != "" {
				if err := json.Unmarshal([]byte(raw), &callArgs); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cmd, args[0])
			if err != nil {
				return err
			}
			defer a.close(ctx)
			res, err := a.gw.Route(ctx, args[0], args[1], callArgs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().String("args", "", "tool arguments as a JSON object")
	return cmd
}

func newOpsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ops [interface]",
		Short:         "List the operations of configured interfaces",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			only := ""
			if len(args) == 1 {
				only = args[0]
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cmd, only)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			all := map[string][]adapter.Operation{}
			for _, info := range a.gw.Interfaces() {
				ops, err := a.gw.Operations(info.Name)
				if err != nil {
					return err
				}
				all[info.Name] = ops
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd.OutOrStdout(), all)
			}
			return printOps(cmd.OutOrStdout(), all)
		},
	}
	cmd.Flags().Bool("json", false, "print JSON")
	return cmd
}

func printOps(w io.Writer, all map[string][]adapter.Operation) error {
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INTERFACE\tTOOL\tREAD-ONLY\tDESCRIPTION")
	for _, n := range names {
		for _, op := range all[n] {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", n, op.Name, op.ReadOnly, op.Description)
		}
	}
	return tw.Flush()
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "health [interface]",
		Short:         "Connect and probe configured interfaces",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			only := ""
			if len(args) == 1 {
				only = args[0]
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cmd, only)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			out := map[string]adapter.Health{}
			unhealthy := 0
			for _, info := range a.gw.Interfaces() {
				h, err := a.gw.Health(ctx, info.Name)
				if err != nil {
					return err
				}
				if !h.Connected {
					unhealthy++
				}
				out[info.Name] = h
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d interface(s) unhealthy", unhealthy)
			}
			return nil
		},
	}
}

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "mcp",
		Short:         "Serve every configured interface as MCP tools over stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cmd, "")
			if err != nil {
				return err
			}
			defer a.close(ctx)
			srv, err := mcpserver.New(a.gw, mcpserver.WithLogger(a.logger), mcpserver.WithVersion(version))
			if err != nil {
				return err
			}
			return srv.ServeStdio(ctx)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print version information",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "toolgate %s (commit=%s, date=%s)\n", version, commit, date)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
