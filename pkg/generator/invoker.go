// Package generator runs the SpecFlow generator against a transient project file.
package generator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
)

const (
	// Subcommand regenerates every feature file listed in the project
	Subcommand = "generateall"

	// FailureMarker is printed by SpecFlow for each feature it could not generate. The process
	// exit code does not reflect these failures.
	FailureMarker = "-> test generation failed"

	// DefaultTimeout bounds a single generator run
	DefaultTimeout = 10 * time.Minute

	// DefaultWaitDelay is how long to wait for output pipes after the process is killed
	DefaultWaitDelay = 5 * time.Second

	maxCapturedOutput = 4 * 1024 * 1024
	maxCapturedStderr = 64 * 1024
)

// Flags passed after the project path
var Flags = []string{"/force", "/verbose"}

// Options configure an Invoker
type Options struct {
	Timeout   time.Duration
	WaitDelay time.Duration
	// Launcher is prepended to the command line, e.g. ["mono"]
	Launcher []string
}

// Result describes a finished generator run
type Result struct {
	Command  string
	ExitCode int
	Output   string
	Stderr   string
	Lines    int
	Failed   bool
	Duration time.Duration
}

// Invoker starts the generator process and classifies its outcome
type Invoker struct {
	logger zerolog.Logger
	opts   Options
}

// NewInvoker creates an invoker. Zero durations fall back to the defaults.
func NewInvoker(logger zerolog.Logger, opts Options) *Invoker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = DefaultWaitDelay
	}
	return &Invoker{
		logger: logger.With().Str("component", "generator").Logger(),
		opts:   opts,
	}
}

// CommandLine returns the program and arguments used to run exe against projectPath
func (i *Invoker) CommandLine(exe, projectPath string) (string, []string) {
	argv := make([]string, 0, len(i.opts.Launcher)+3+len(Flags))
	argv = append(argv, i.opts.Launcher...)
	argv = append(argv, exe, Subcommand, projectPath)
	argv = append(argv, Flags...)
	return argv[0], argv[1:]
}

// Generate runs exe against the transient project at projectPath. Standard output is drained
// line by line while the process runs. A FailureMarker anywhere in the output fails the run
// regardless of the exit code; a non-zero exit code without the marker is only logged.
func (i *Invoker) Generate(ctx context.Context, exe, projectPath string) (*Result, error) {
	ctx, cancel := common.TimeoutContext(ctx, i.opts.Timeout)
	defer cancel()

	logger := i.logger
	if runID, ok := common.RunIDFromContext(ctx); ok {
		logger = logger.With().Str("run_id", runID).Logger()
	}

	name, args := i.CommandLine(exe, projectPath)
	result := &Result{Command: displayCommand(name, args)}
	logger.Info().Str("command", result.Command).Msg("Calling SpecFlow")

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = i.opts.WaitDelay

	pr, pw := io.Pipe()
	stdout := common.NewSafeBuffer(maxCapturedOutput)
	stderr := common.NewSafeBuffer(maxCapturedStderr)
	cmd.Stdout = pw
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, common.WrapFixerError(common.ErrCodeGeneratorStartFailed, "Failed to start SpecFlow: "+exe, err)
	}

	var waitErr error
	g := new(errgroup.Group)

	g.Go(func() error {
		reader := bufio.NewReader(pr)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				stdout.Write([]byte(line))
				result.Lines++
				if strings.Contains(line, FailureMarker) {
					result.Failed = true
				}
				logger.Info().Msg(strings.TrimRight(line, "\r\n"))
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				pr.CloseWithError(err)
				return fmt.Errorf("failed to read generator output: %w", err)
			}
		}
	})

	g.Go(func() error {
		waitErr = cmd.Wait()
		pw.Close()
		return nil
	})

	readErr := g.Wait()
	result.Duration = time.Since(start)
	result.Output = stdout.String()
	result.Stderr = stderr.String()
	result.ExitCode = cmd.ProcessState.ExitCode()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, common.NewFixerError(
			common.ErrCodeTimeout,
			fmt.Sprintf("SpecFlow did not finish within %s and was stopped", common.FormatDuration(i.opts.Timeout)),
			common.TailLines(result.Output, 20),
		)
	}
	if err := ctx.Err(); err != nil {
		return result, common.WrapFixerError(common.ErrCodeGenerationFailed, "SpecFlow generation was cancelled", err)
	}
	if readErr != nil {
		return result, common.WrapFixerError(common.ErrCodeIO, "Failed to capture SpecFlow output", readErr)
	}

	if result.Failed {
		return result, common.NewFixerError(
			common.ErrCodeGenerationFailed,
			"SpecFlow generation failed (review the output).",
			common.TailLines(result.Output, 20),
		)
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		logger.Warn().
			Int("exit_code", result.ExitCode).
			Str("stderr", common.TruncateString(result.Stderr, 500)).
			Msg("SpecFlow exited with a non-zero code but reported no failures")
	case errors.Is(waitErr, exec.ErrWaitDelay):
		logger.Warn().Msg("SpecFlow output pipes stayed open after exit")
	default:
		return result, common.WrapFixerError(common.ErrCodeGenerationFailed, "SpecFlow did not run to completion", waitErr)
	}

	logger.Info().
		Int("lines", result.Lines).
		Str("duration", common.FormatDuration(result.Duration)).
		Msg("SpecFlow finished")
	return result, nil
}

func displayCommand(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, arg := range append([]string{name}, args...) {
		if strings.ContainsAny(arg, " \t") {
			arg = `"` + arg + `"`
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}
