package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/hylla/shotboard/internal/adapters/server"
)

// version is stamped at build time.
var version = "dev"

// serveCommandRunner stores the HTTP serve entrypoint so tests can stub it.
var serveCommandRunner = server.Run

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := fang.Execute(ctx, newRootCommand(os.Stdout, os.Stderr), fang.WithVersion(version)); err != nil {
		stop()
		os.Exit(1)
	}
}

// run executes one command line against explicit writers.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// cli carries the parsed persistent flags and the command writers.
type cli struct {
	opts   rootOptions
	stdout io.Writer
	stderr io.Writer
}

// newRootCommand builds the shotboard command tree.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv(envDevMode); ok {
		defaultDevMode = envDev
	}
	defaultApp := "shotboard"
	if envApp := strings.TrimSpace(os.Getenv(envAppName)); envApp != "" {
		defaultApp = envApp
	}

	root := &cobra.Command{
		Use:           "shotboard",
		Short:         "Track acts, shots, and per-department status for an animation production",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&c.opts.dbPath, "db", "", "path to sqlite database (forces the sqlite backend)")
	flags.StringVar(&c.opts.appName, "app", defaultApp, "application name for config/data path resolution")
	flags.BoolVar(&c.opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
	flags.StringVar(&c.opts.actorName, "actor", "", "name recorded for local changes (default auth.dev.name)")
	flags.StringVar(&c.opts.actorRole, "role", "", "role used for local permission checks (default auth.dev.role)")
	flags.BoolVar(&c.opts.jsonOutput, "json", false, "print JSON instead of tables")

	root.AddCommand(
		c.newServeCommand(),
		c.newPathsCommand(),
		c.newSessionCommand(),
		c.newActsCommand(),
		c.newShotsCommand(),
		c.newStatusCommand(),
		c.newStatsCommand(),
		c.newImportCommand(),
	)
	return root
}
