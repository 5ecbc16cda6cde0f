package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	internalcmd "github.com/justDance-everybody/Demo-Echo-Backend/internal/cmd"
	cmdopts "github.com/justDance-everybody/Demo-Echo-Backend/internal/cmd/options"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/config"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/flags"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/supervisor"
)

type ResetCmd struct {
	*internalcmd.BaseCmd
	cfgLoader config.Loader
}

func NewResetCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &ResetCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "reset [server]",
		Short: "Clears failure state and sweeps orphaned server processes",
		Long: "Terminates server processes left behind by a previous daemon and clears any " +
			"failure or blacklist state. With a server argument only that server's state is cleared.",
		Args: cobra.MaximumNArgs(1),
		RunE: c.run,
	}

	return cobraCommand, nil
}

func (c *ResetCmd) run(_ *cobra.Command, args []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	store, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(logger, store)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	names := store.ServerNames()
	if len(args) == 1 {
		if _, ok := store.Server(args[0]); !ok {
			return fmt.Errorf("%w: %s", supervisor.ErrServerNotFound, args[0])
		}
		names = args
	}

	for _, name := range names {
		if err := sup.ResetFailures(name); err != nil {
			return err
		}
	}

	reaped, err := sup.CleanupZombies(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Reset %d server(s), terminated %d orphaned process(es).\n", len(names), reaped)
	return nil
}
