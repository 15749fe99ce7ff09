// Package fixer drives a complete run: read the host project, locate SpecFlow, reconcile
// app.config, generate the glue through a transient project and fix the generated code.
package fixer

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stajs/SpecFlow.NetCore/pkg/appconfig"
	"github.com/stajs/SpecFlow.NetCore/pkg/args"
	"github.com/stajs/SpecFlow.NetCore/pkg/common"
	"github.com/stajs/SpecFlow.NetCore/pkg/config"
	"github.com/stajs/SpecFlow.NetCore/pkg/framework"
	"github.com/stajs/SpecFlow.NetCore/pkg/generator"
	"github.com/stajs/SpecFlow.NetCore/pkg/glue"
	"github.com/stajs/SpecFlow.NetCore/pkg/locator"
	"github.com/stajs/SpecFlow.NetCore/pkg/monitoring"
	"github.com/stajs/SpecFlow.NetCore/pkg/project"
	"github.com/stajs/SpecFlow.NetCore/pkg/transient"
)

// ProjectReader loads the host project from a directory
type ProjectReader interface {
	Load(dir string) (*project.HostDescriptor, error)
}

// GeneratorLocator resolves the SpecFlow executable
type GeneratorLocator interface {
	Locate(host *project.HostDescriptor, override string) (*locator.GeneratorLocation, error)
}

// ConfigManager ensures app.config and resolves the test framework
type ConfigManager interface {
	Ensure(dir string, host *project.HostDescriptor, override framework.Identity) (*appconfig.Result, error)
}

// DescriptorBuilder writes the transient project
type DescriptorBuilder interface {
	Build(host *project.HostDescriptor, specs []project.SpecificationFile, toolsVersion, workDir string) (*transient.Descriptor, error)
}

// Generator runs SpecFlow
type Generator interface {
	Generate(ctx context.Context, exe, projectPath string) (*generator.Result, error)
}

// GlueFixer rewrites generated files
type GlueFixer interface {
	FixAll(dir string, id framework.Identity) (*glue.Report, error)
}

// Dependencies are the components a Fixer drives
type Dependencies struct {
	Reader    ProjectReader
	Locator   GeneratorLocator
	Configs   ConfigManager
	Builder   DescriptorBuilder
	Generator Generator
	Glue      GlueFixer
	Tracing   *monitoring.TracingManager
}

// NewDependencies wires the default components from cfg. The env file, when relative, is
// resolved against workingDir.
func NewDependencies(logger zerolog.Logger, cfg *config.Config, workingDir string, tracing *monitoring.TracingManager) (Dependencies, error) {
	reader, err := project.NewReader(logger, cfg.Project.DescriptorCacheSize)
	if err != nil {
		return Dependencies{}, err
	}

	envFile := cfg.Project.EnvFile
	if envFile != "" && !filepath.IsAbs(envFile) {
		envFile = filepath.Join(workingDir, envFile)
	}
	env, err := locator.DotEnv(envFile)
	if err != nil {
		return Dependencies{}, err
	}

	return Dependencies{
		Reader:  reader,
		Locator: locator.NewWithEnv(logger, env),
		Configs: appconfig.NewManager(logger),
		Builder: transient.NewBuilder(logger),
		Generator: generator.NewInvoker(logger, generator.Options{
			Timeout:   cfg.Generator.Timeout,
			WaitDelay: cfg.Generator.WaitDelay,
			Launcher:  cfg.Generator.LauncherArgs(),
		}),
		Glue:    glue.NewFixer(logger),
		Tracing: tracing,
	}, nil
}

// Report summarizes a run
type Report struct {
	RunID            string
	WorkingDirectory string
	Project          string
	Generator        *locator.GeneratorLocation
	Framework        framework.Identity
	AppConfig        *appconfig.Result
	Specifications   []project.SpecificationFile
	Generation       *generator.Result
	Glue             *glue.Report
	// NewGlue lists glue files that did not exist before the run
	NewGlue     []string
	State       RunState
	Transitions []StateTransition
	Duration    time.Duration
}

// Fixer runs the fix sequence
type Fixer struct {
	logger zerolog.Logger
	deps   Dependencies
}

// New creates a fixer. A nil tracing manager disables tracing.
func New(logger zerolog.Logger, deps Dependencies) *Fixer {
	if deps.Tracing == nil {
		deps.Tracing, _ = monitoring.NewTracingManager(context.Background(), config.TracingConfig{}, "", nil, logger)
	}
	return &Fixer{
		logger: logger.With().Str("component", "fixer").Logger(),
		deps:   deps,
	}
}

// Run performs one fix of rc.WorkingDirectory. Every failure is terminal; glue files fixed
// before a later failure stay modified.
func (f *Fixer) Run(ctx context.Context, rc *args.RunConfiguration) (report *Report, err error) {
	start := time.Now()
	runID := uuid.New().String()
	ctx = common.ContextWithRunID(ctx, runID)

	logger := f.logger.With().Str("run_id", runID).Str("working_directory", rc.WorkingDirectory).Logger()
	sm := newStateMachine(logger)
	report = &Report{RunID: runID, WorkingDirectory: rc.WorkingDirectory, State: StateStart}

	ctx, span := f.deps.Tracing.StartSpan(ctx, "specflow.fix",
		attribute.String("run_id", runID),
		attribute.String("working_directory", rc.WorkingDirectory),
	)
	defer func() {
		report.State = sm.state
		report.Transitions = sm.transitions
		report.Duration = time.Since(start)
		monitoring.EndSpan(span, err)
	}()

	logger.Info().Msg("Current directory: " + rc.WorkingDirectory)

	var host *project.HostDescriptor
	err = f.step(ctx, sm, StateDescriptorLocated, func(ctx context.Context) error {
		var err error
		host, err = f.deps.Reader.Load(rc.WorkingDirectory)
		if err != nil {
			return err
		}
		report.Project = host.Path

		report.Specifications, err = project.DiscoverSpecifications(rc.WorkingDirectory, host)
		if err != nil {
			return err
		}
		for _, spec := range report.Specifications {
			if !spec.HasGlue() {
				report.NewGlue = append(report.NewGlue, spec.GluePath())
			}
		}
		logger.Info().Int("features", len(report.Specifications)).Msg("Found feature files")
		return nil
	})
	if err != nil {
		return report, err
	}

	err = f.step(ctx, sm, StateFrameworkResolved, func(ctx context.Context) error {
		var err error
		report.Generator, err = f.deps.Locator.Locate(host, rc.SpecFlowPath)
		if err != nil {
			return err
		}

		report.AppConfig, err = f.deps.Configs.Ensure(rc.WorkingDirectory, host, rc.TestFramework)
		if err != nil {
			return err
		}
		report.Framework = report.AppConfig.Framework
		return nil
	})
	if err != nil {
		return report, err
	}

	err = f.generate(ctx, sm, host, report, rc)
	if err != nil {
		return report, err
	}

	err = f.step(ctx, sm, StateFixed, func(ctx context.Context) error {
		var err error
		report.Glue, err = f.deps.Glue.FixAll(rc.WorkingDirectory, report.Framework)
		return err
	})
	if err != nil {
		return report, err
	}

	for _, path := range report.NewGlue {
		if !common.FileExists(path) {
			continue
		}
		logger.Warn().
			Str("path", path).
			Msg("New file generated. Its tests will not be discovered by 'dotnet test' until the project is rebuilt")
	}

	if err := sm.advance(StateDone, nil); err != nil {
		return report, err
	}
	logger.Info().Str("duration", common.FormatDuration(time.Since(start))).Msg("SpecFlow fixed")
	return report, nil
}

// generate builds the transient project, runs SpecFlow and removes the transient project
// before returning, whatever the outcome.
func (f *Fixer) generate(ctx context.Context, sm *stateMachine, host *project.HostDescriptor, report *Report, rc *args.RunConfiguration) error {
	var desc *transient.Descriptor
	err := f.step(ctx, sm, StateTransientBuilt, func(ctx context.Context) error {
		var err error
		desc, err = f.deps.Builder.Build(host, report.Specifications, rc.ToolsVersion, rc.WorkingDirectory)
		return err
	})
	if err != nil {
		return err
	}

	return f.step(ctx, sm, StateGenerated, func(ctx context.Context) (err error) {
		defer func() {
			if removeErr := desc.Remove(); removeErr != nil && err == nil {
				err = removeErr
			}
		}()

		report.Generation, err = f.deps.Generator.Generate(ctx, report.Generator.Path, desc.Path)
		return err
	})
}

// step runs fn in its own span and advances to target, or to StateFailed when fn fails
func (f *Fixer) step(ctx context.Context, sm *stateMachine, target RunState, fn func(ctx context.Context) error) (err error) {
	ctx, span := f.deps.Tracing.StartSpan(ctx, "specflow."+string(target))
	defer func() { monitoring.EndSpan(span, err) }()

	if err = fn(ctx); err != nil {
		from := sm.state
		if advanceErr := sm.advance(StateFailed, err); advanceErr != nil {
			return advanceErr
		}
		return &StepError{State: from, Err: err}
	}
	return sm.advance(target, nil)
}
