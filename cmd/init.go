package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	internalcmd "github.com/justDance-everybody/Demo-Echo-Backend/internal/cmd"
	cmdopts "github.com/justDance-everybody/Demo-Echo-Backend/internal/cmd/options"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/config"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/flags"
)

type InitCmd struct {
	*internalcmd.BaseCmd
	cfgInitializer config.Initializer
}

func NewInitCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &InitCmd{
		BaseCmd:        baseCmd,
		cfgInitializer: opts.ConfigInitializer,
	}

	cobraCommand := &cobra.Command{
		Use:   "init",
		Short: "Initializes the current directory as an `echomcp` project",
		Long:  c.longDescription(),
		RunE:  c.run,
	}

	return cobraCommand, nil
}

func (c *InitCmd) longDescription() string {
	return fmt.Sprintf(
		"Initializes the current directory as an `echomcp` project, creating a %s configuration file.\n\n"+
			"The configuration file path can be overridden using the `--%s` flag or the `%s` environment variable",
		flags.DefaultConfigFile,
		flags.FlagNameConfigFile,
		flags.EnvVarConfigFile,
	)
}

func (c *InitCmd) run(_ *cobra.Command, _ []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	initFilePath := flags.ConfigFile
	if !filepath.IsAbs(initFilePath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("could not determine working directory: %w", err)
		}
		initFilePath = filepath.Join(wd, initFilePath)
	}

	if err := c.cfgInitializer.Init(initFilePath); err != nil {
		return err
	}

	logger.Info("project initialized", "config", initFilePath)
	fmt.Printf("Created %s\n", initFilePath)

	return nil
}
