package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	internalcmd "github.com/justDance-everybody/Demo-Echo-Backend/internal/cmd"
	cmdopts "github.com/justDance-everybody/Demo-Echo-Backend/internal/cmd/options"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/config"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/flags"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/supervisor"
)

type StatusCmd struct {
	*internalcmd.BaseCmd
	cfgLoader config.Loader
}

func NewStatusCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &StatusCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "status [server]",
		Short: "Shows the configured servers and their status records",
		Args:  cobra.MaximumNArgs(1),
		RunE:  c.run,
	}

	return cobraCommand, nil
}

func (c *StatusCmd) run(_ *cobra.Command, args []string) error {
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

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	if len(args) == 1 {
		status, err := sup.Status(args[0])
		if err != nil {
			return err
		}
		return encoder.Encode(status)
	}

	statuses := sup.Statuses()
	if len(statuses) == 0 {
		fmt.Println("No servers configured.")
		return nil
	}
	return encoder.Encode(statuses)
}
