package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stajs/SpecFlow.NetCore/pkg/args"
	"github.com/stajs/SpecFlow.NetCore/pkg/common"
	"github.com/stajs/SpecFlow.NetCore/pkg/config"
	"github.com/stajs/SpecFlow.NetCore/pkg/fixer"
	"github.com/stajs/SpecFlow.NetCore/pkg/monitoring"
	"github.com/stajs/SpecFlow.NetCore/pkg/watch"
)

// configEnvVar names the tool config file for the root and watch commands, whose flags are not
// parsed by cobra
const configEnvVar = config.EnvPrefix + "_CONFIG"

var (
	// Build info (set by build system)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	successColor = lipgloss.Color("#10b981")
	errorColor   = lipgloss.Color("#ef4444")
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the process exit code. SIGINT and SIGTERM cancel the
// context so a running fix can remove its transient project before exiting.
func execute(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	if !isSubcommand(rootCmd, argv) {
		// option values may be words such as "version"; they must not select a subcommand
		rootCmd.ResetCommands()
	}
	rootCmd.SetArgs(argv)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(stdout, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "specflow-netcore [options]",
		Short: "Generate and fix SpecFlow glue for .NET Core test projects",
		Long: `specflow-netcore runs the SpecFlow generator against a .NET Core test project and fixes
the generated *.feature.cs files for xUnit, NUnit or MSTest.

Options (values may contain spaces and need no quoting):
  --specflow-path <path>       path to specflow.exe (alias --generator-path)
  --working-directory <dir>    test project directory (default: current directory)
  --test-framework <name>      xunit, nunit or mstest
  --tools-version <version>    ToolsVersion of the transient project (alias --schema-version)

The tool config file is read from $` + configEnvVar + ` when set.`,
		Version:            fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, tokens []string) error {
			if wantsHelp(tokens) {
				return cmd.Help()
			}
			if len(tokens) == 1 && tokens[0] == "--version" {
				fmt.Fprintln(cmd.OutOrStdout(), cmd.Version)
				return nil
			}
			return runFix(cmd, tokens)
		},
	}

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

// isSubcommand reports whether argv starts with the name of a subcommand rather than an option
func isSubcommand(rootCmd *cobra.Command, argv []string) bool {
	if len(argv) == 0 || args.IsOptionName(argv[0]) {
		return false
	}
	switch argv[0] {
	case "help", "completion":
		return true
	}
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == argv[0] || cmd.HasAlias(argv[0]) {
			return true
		}
	}
	return false
}

func wantsHelp(tokens []string) bool {
	for _, t := range tokens {
		if t == "-h" || t == "--help" {
			return true
		}
	}
	return false
}

// app holds what every run needs: settings, logger and tracer
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	tracing *monitoring.TracingManager
	closer  io.Closer
}

func newApp(ctx context.Context, configPath string, traceOutput io.Writer) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, closer, err := monitoring.NewLogger(cfg.Logging)
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeConfigInvalid, "failed to setup logging", err)
	}

	tracing, err := monitoring.NewTracingManager(ctx, cfg.Tracing, version, traceOutput, logger)
	if err != nil {
		closer.Close()
		return nil, common.WrapFixerError(common.ErrCodeConfigInvalid, "failed to setup tracing", err)
	}

	if tracing.Enabled() {
		logger.Debug().Str("exporter", cfg.Tracing.Exporter).Msg("Tracing enabled")
	}

	logger.Debug().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", date).
		Msg("Starting specflow-netcore")

	return &app{cfg: cfg, logger: logger, tracing: tracing, closer: closer}, nil
}

func (a *app) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracing.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to flush traces")
	}
	a.closer.Close()
}

func (a *app) newFixer(rc *args.RunConfiguration) (*fixer.Fixer, error) {
	deps, err := fixer.NewDependencies(a.logger, a.cfg, rc.WorkingDirectory, a.tracing)
	if err != nil {
		return nil, err
	}
	return fixer.New(a.logger, deps), nil
}

func runFix(cmd *cobra.Command, tokens []string) error {
	rc, err := args.Parse(tokens)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), os.Getenv(configEnvVar), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	f, err := a.newFixer(rc)
	if err != nil {
		return err
	}

	if _, err := f.Run(cmd.Context(), rc); err != nil {
		return err
	}

	printSuccess(cmd.OutOrStdout())
	return nil
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "watch [options]",
		Short:              "Fix once, then fix again whenever features, the project or app.config change",
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, tokens []string) error {
			if wantsHelp(tokens) {
				return cmd.Help()
			}

			rc, err := args.Parse(tokens)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, os.Getenv(configEnvVar), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			f, err := a.newFixer(rc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := watch.New(a.logger, rc.WorkingDirectory, a.cfg.Watch.Debounce, func(ctx context.Context) error {
				if _, err := f.Run(ctx, rc); err != nil {
					printError(out, err)
					return err
				}
				printSuccess(out)
				return nil
			})
			return w.Run(ctx)
		},
	}
}

func newConfigCmd() *cobra.Command {
	var configPath string
	var outputPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(configEnvVar), "config file path")

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate default configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultConfig()

			path := outputPath
			if path == "" {
				path = config.FileName + ".yaml"
			}

			if err := cfg.SaveConfig(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration: %s\n", path)
			return nil
		},
	}
	generateCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration is valid\n")
			fmt.Fprintf(out, "Logging: %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)
			fmt.Fprintf(out, "Generator timeout: %s\n", cfg.Generator.Timeout)
			fmt.Fprintf(out, "Launcher: %s\n", common.CoalesceString(cfg.Generator.Launcher, "(none)"))
			fmt.Fprintf(out, "Tracing enabled: %t\n", cfg.Tracing.Enabled)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(generateCmd)
	cmd.AddCommand(validateCmd)
	cmd.AddCommand(showCmd)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "specflow-netcore\n")
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}

func printSuccess(w io.Writer) {
	style := lipgloss.NewRenderer(w).NewStyle().Foreground(successColor)
	fmt.Fprintln(w, style.Render("SpecFlow fixed."))
}

func printError(w io.Writer, err error) {
	style := lipgloss.NewRenderer(w).NewStyle().Foreground(errorColor)
	fmt.Fprintln(w, style.Render("Error: "+errorMessage(err)))
}

// errorMessage returns the component error's message followed by its details, if any
func errorMessage(err error) string {
	var fe *common.FixerError
	if errors.As(err, &fe) && fe.Details != "" {
		return fe.Message + "\n" + fe.Details
	}
	return err.Error()
}
