package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rarydzu/redisdir/config"
	"github.com/rarydzu/redisdir/metrics"
	"github.com/rarydzu/redisdir/redisdir"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	dir       *redisdir.Directory
	out       io.Writer
	fuseDebug bool
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("redisdir", pflag.ContinueOnError)
	flags.String("config", "", "Path to configuration file.")
	flags.Bool("metrics", false, "Print prometheus metrics after the command.")
	flags.Bool("fuse-debug", false, "Log fuse operations when mounting.")
	config.RegisterFlags(flags)
	return flags
}

func run(argv []string, out io.Writer) error {
	flags := newFlagSet()
	flags.Usage = func() { printHelp(flags) }
	if err := flags.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	args := flags.Args()
	if len(args) == 0 {
		printHelp(flags)
		return fmt.Errorf("missing command")
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	if n := len(args) - 1; n < cmd.minArgs || (cmd.maxArgs >= 0 && n > cmd.maxArgs) {
		return fmt.Errorf("usage: redisdir %s %s", args[0], cmd.usage)
	}

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if cfg.DebugMode {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return fmt.Errorf("failed to initialize zap logger: %w", err)
	}
	defer logger.Sync()
	sugarlog := logger.Sugar()

	dir, err := redisdir.New(cfg, sugarlog)
	if err != nil {
		return err
	}
	defer func() {
		if err := dir.Close(); err != nil {
			sugarlog.Errorf("close directory: %v", err)
		}
	}()
	fuseDebug, _ := flags.GetBool("fuse-debug")
	a := &app{
		cfg:       cfg,
		log:       sugarlog,
		dir:       dir,
		out:       out,
		fuseDebug: fuseDebug,
	}
	err = cmd.run(context.Background(), a, args[1:])
	if dump, _ := flags.GetBool("metrics"); dump {
		if merr := metrics.WritePrometheus(out); merr != nil && err == nil {
			err = merr
		}
	}
	return err
}

func printHelp(flags *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: redisdir [flags] <command> [args]\n\nCommands:\n")
	for _, name := range commandNames() {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", name, commands[name].usage)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n%s", flags.FlagUsages())
}
