package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	internalcmd "github.com/justDance-everybody/Demo-Echo-Backend/internal/cmd"
	cmdopts "github.com/justDance-everybody/Demo-Echo-Backend/internal/cmd/options"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/config"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/flags"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/mcpclient"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/pool"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/supervisor"
)

// DaemonCmd represents the 'daemon' command.
type DaemonCmd struct {
	*internalcmd.BaseCmd
	HealthInterval time.Duration
	cfgLoader      config.Loader
}

// NewDaemonCmd creates a newly configured (Cobra) command.
func NewDaemonCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &DaemonCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "daemon",
		Short: "Launches an `echomcp` daemon instance",
		Long: "Launches an `echomcp` daemon instance, which starts the configured MCP servers, " +
			"supervises their processes and maintains protocol sessions to them",
		RunE: c.run,
	}

	cobraCommand.Flags().DurationVar(
		&c.HealthInterval,
		"health-interval",
		supervisor.DefaultHealthCheckInterval(),
		"Interval between server health checks",
	)

	return cobraCommand, nil
}

func (c *DaemonCmd) run(_ *cobra.Command, _ []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	store, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(logger, store, supervisor.WithHealthCheckInterval(c.HealthInterval))
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	sessions, err := pool.New(logger, store, sup, sup, mcpclient.NewStdioDialer())
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Health checks gain a protocol level probe through the pool.
	sup.SetPinger(sessions.PingServer)

	daemonCtx, daemonCtxCancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer daemonCtxCancel()

	fmt.Printf("Starting %d MCP server(s)...\n", len(store.ServerNames()))

	if err := sup.StartAll(daemonCtx); err != nil {
		logger.Error("not all servers started", "error", err)
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// Establish sessions up front so the first tool call is not paying
	// the connect cost.
	for _, name := range store.ServerNames() {
		if _, err := sessions.Get(daemonCtx, name); err != nil {
			logger.Warn("failed to establish initial session", "server", name, "error", err)
		}
	}

	go sup.Monitor(daemonCtx)

	fmt.Println("echomcp daemon running. Press Ctrl+C to stop.")
	<-daemonCtx.Done()

	logger.Info("shutting down daemon")
	fmt.Println("\nShutting down all servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessions.CloseAll()
	sup.StopAll(shutdownCtx)

	return nil
}
