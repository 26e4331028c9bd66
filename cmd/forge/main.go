package main

import (
	"context"
	"fmt"
	"os"

	"forge/internal/app"
	"forge/internal/config"
	"forge/internal/logging"
	"forge/internal/ui"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0"
	cfgFile   string
	rootDir   string
	model     string
	backend   string
	logLevel  string
	themeName string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forge",
		Short: "Drive a build to green and review specifications with an LLM",
		Long: `Forge asks a language model for file edits until ./build.sh passes, and
reviews module specifications under src/ stage by stage in dependency order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "extra config file merged after .forge/config.yaml")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "project root")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "model to use (default depends on the backend)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "model backend: gemini or openai")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&themeName, "theme", string(ui.ThemeDark), "output theme")

	var task string
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Repair the build until ./build.sh passes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app.App) error { return a.RunBuild(ctx, task) })
		},
	}
	buildCmd.Flags().StringVar(&task, "task", "", "task description sent to the model")

	var (
		watch    bool
		maxTasks int
	)
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Review specifications stage by stage",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app.App) error { return a.RunReview(ctx, maxTasks, watch) })
		},
	}
	reviewCmd.Flags().BoolVar(&watch, "watch", false, "keep reviewing as specifications change")
	reviewCmd.Flags().IntVar(&maxTasks, "max-tasks", 0, "stop after this many stages (0 = no limit)")

	var limit int
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app.App) error { return a.Runs(limit) })
		},
	}
	runsCmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show (0 = all)")

	rootCmd.AddCommand(
		buildCmd,
		reviewCmd,
		runsCmd,
		&cobra.Command{
			Use:   "status",
			Short: "Show review progress per module",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				run(func(ctx context.Context, a *app.App) error { return a.Status() })
			},
		},
		&cobra.Command{
			Use:   "graph",
			Short: "Show module dependency levels",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				run(func(ctx context.Context, a *app.App) error { return a.Graph() })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("forge version %s\n", version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(app.ExitFailure)
	}
}

// run builds the app, runs fn and exits with the matching code.
func run(fn func(ctx context.Context, a *app.App) error) {
	ctx, stop := app.WithSignals(context.Background())
	err := execute(ctx, fn)
	stop()
	logging.Close()
	if err != nil {
		os.Exit(app.ExitCode(err))
	}
}

func execute(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	theme := ui.ThemeType(themeName)
	errPrinter := ui.NewPrinter(os.Stderr, ui.NewStyles(theme), nil)

	cfg, err := config.Load(config.LoadOptions{Root: rootDir, ConfigFile: cfgFile})
	if err != nil {
		errPrinter.Error(err)
		return err
	}

	// Command-line flags win over files and environment.
	if model != "" {
		cfg.API.Model = model
	}
	if backend != "" {
		cfg.API.Backend = backend
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	application, err := app.NewBuilder(cfg, os.Stdout).WithTheme(theme).Build()
	if err != nil {
		errPrinter.Error(err)
		return err
	}

	err = fn(ctx, application)
	switch app.ExitCode(err) {
	case app.ExitOK:
	case app.ExitBuildFailed:
		// Already reported together with the last build output.
	case app.ExitInterrupted:
		application.Printer().Warn("Interrupted")
	default:
		application.Printer().Error(err)
	}
	return err
}
