package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/core-tools/hsu-devrun/pkg/console"
	"github.com/core-tools/hsu-devrun/pkg/devrun"
	"github.com/core-tools/hsu-devrun/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Install bool `long:"install" description:"run the package manager's install in every server directory before starting"`
}

var (
	getwd = os.Getwd

	runSession = func(ctx context.Context, options devrun.RunnerOptions, out *console.Console, logger logging.Logger) int {
		return devrun.NewRunner(options, out, logger).Run(ctx)
	}
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(argv []string, stdout, stderr io.Writer) int {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag)
	parser.Usage = "[--install]"
	rest, err := parser.ParseArgs(argv)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, err)
			return 0
		}
		fmt.Fprintf(stderr, "Command line flags parsing failed: %v\n", err)
		return 1
	}
	if len(rest) > 0 {
		fmt.Fprintf(stderr, "Unexpected arguments: %s\n", strings.Join(rest, " "))
		return 1
	}

	out := console.New(stdout, stderr)

	root, err := getwd()
	if err != nil {
		out.ErrLine("", fmt.Sprintf("Failed to determine the project root: %v", err))
		return 1
	}

	config, err := devrun.LoadConfig(root)
	if err != nil {
		out.ErrLine("", fmt.Sprintf("Failed to load %s: %v", devrun.ConfigFileName, err))
		return 1
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = config.LogLevel
	zapLogger, err := logging.NewZapLogger(zapConfig, out.Out(), out.Err())
	if err != nil {
		out.ErrLine("", fmt.Sprintf("Failed to set up logging: %v", err))
		return 1
	}
	defer zapLogger.Sync()

	logger := logging.NewZapBackedLogger("", zapLogger)

	return runSession(context.Background(), devrun.RunnerOptions{
		ProjectRoot: root,
		Install:     opts.Install,
		Config:      config,
	}, out, logger)
}
