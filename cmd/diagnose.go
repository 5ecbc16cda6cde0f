package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	internalcmd "github.com/justDance-everybody/Demo-Echo-Backend/internal/cmd"
	cmdopts "github.com/justDance-everybody/Demo-Echo-Backend/internal/cmd/options"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/config"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/diagnose"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/flags"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/mcpclient"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/pool"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/supervisor"
)

type DiagnoseCmd struct {
	*internalcmd.BaseCmd
	Timeout   time.Duration
	cfgLoader config.Loader
}

func NewDiagnoseCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &DiagnoseCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "diagnose <server>",
		Short: "Runs step-by-step connection diagnostics for a server",
		Long: "Starts the named server, probes its process, establishes a throwaway protocol " +
			"session and lists its tools, reporting each step. The server is stopped afterwards.",
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}

	cobraCommand.Flags().DurationVar(
		&c.Timeout,
		"timeout",
		60*time.Second,
		"Overall time budget for the diagnostic run",
	)

	return cobraCommand, nil
}

func (c *DiagnoseCmd) run(_ *cobra.Command, args []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	name := args[0]

	store, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(logger, store)
	if err != nil {
		return err
	}

	sessions, err := pool.New(logger, store, sup, sup, mcpclient.NewStdioDialer())
	if err != nil {
		return err
	}

	d, err := diagnose.New(logger, store, sup, sessions)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	// Diagnostics run against a live process, so start one for the
	// duration of the checks.
	if res := sup.EnsureRunning(ctx, name, false); !res.Success {
		fmt.Fprintf(os.Stderr, "Note: could not start %s: %s\n", name, res.Message)
	}
	defer sup.StopAll(context.Background())
	defer sessions.CloseAll()

	report := d.Diagnose(ctx, name)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
