package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gridmesh/gridclear/config"
	"github.com/gridmesh/gridclear/logging"
)

type InitCmd struct {
	RootPath string `short:"r" long:"root-path" description:"Path of the root directory in which the configuration will be located"`
	Force    bool   `short:"f" long:"force" description:"Erase existing configuration at the specified path"`
}

var initCmd InitCmd

// Init registers the init sub-command, generating the minimal configuration
// required for a node to start.
func Init(_ context.Context, parser *flags.Parser) error {
	initCmd = InitCmd{
		RootPath: defaultRootDir(),
	}
	_, err := parser.AddCommand("init", "Initialize a gridclear node", "Generate the minimal configuration required for a gridclear node to start", &initCmd)
	return err
}

func (opts *InitCmd) Execute(_ []string) error {
	log := logging.NewLoggerFromEnv("dev")
	defer log.AtExit()

	if _, err := os.Stat(opts.RootPath); err == nil {
		if !opts.Force {
			return fmt.Errorf("configuration already exists at `%v` please remove it first or re-run using -f", opts.RootPath)
		}
		log.Info("removing existing configuration", logging.String("path", opts.RootPath))
		os.RemoveAll(opts.RootPath)
	}

	if err := config.Write(opts.RootPath, config.NewDefaultConfig()); err != nil {
		return err
	}
	log.Info("configuration generated successfully", logging.String("path", opts.RootPath))
	return nil
}
