package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "toolgate: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "toolgate",
		Short:         "Route tool calls to REST, Graph, RCON and MCP interfaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", os.Getenv("TOOLGATE_CONFIG"), "path to the gateway config (.yaml or .toml)")
	root.AddCommand(
		newServeCommand(),
		newCallCommand(),
		newOpsCommand(),
		newHealthCommand(),
		newMCPCommand(),
		newVersionCommand(),
	)
	return root
}
