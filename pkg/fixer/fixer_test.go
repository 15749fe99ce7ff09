package fixer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stajs/SpecFlow.NetCore/pkg/appconfig"
	"github.com/stajs/SpecFlow.NetCore/pkg/args"
	"github.com/stajs/SpecFlow.NetCore/pkg/common"
	"github.com/stajs/SpecFlow.NetCore/pkg/config"
	"github.com/stajs/SpecFlow.NetCore/pkg/framework"
	"github.com/stajs/SpecFlow.NetCore/pkg/generator"
	"github.com/stajs/SpecFlow.NetCore/pkg/transient"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, exe, projectPath string) (*generator.Result, error) {
	args := m.Called(ctx, exe, projectPath)
	var res *generator.Result
	if v := args.Get(0); v != nil {
		res = v.(*generator.Result)
	}
	return res, args.Error(1)
}

const xunitProject = `<Project Sdk="Microsoft.NET.Sdk">
  <ItemGroup>
    <PackageReference Include="SpecFlow" Version="2.1.0" />
    <PackageReference Include="xunit" Version="2.2.0" />
  </ItemGroup>
</Project>`

const legacyGlue = "public partial class LoginFeature : Xunit.IUseFixture<LoginFeature.FixtureData>\n{\n}\n"

type fixture struct {
	dir       string
	csproj    string
	feature   string
	exe       string
	generator *mockGenerator
	fixer     *Fixer
}

func newFixture(t *testing.T, projectContent string) *fixture {
	t.Helper()
	dir := t.TempDir()

	fx := &fixture{
		dir:       dir,
		csproj:    filepath.Join(dir, "Tests.csproj"),
		feature:   filepath.Join(dir, "Features", "Login.feature"),
		exe:       filepath.Join(t.TempDir(), "specflow.exe"),
		generator: &mockGenerator{},
	}

	require.NoError(t, os.WriteFile(fx.csproj, []byte(projectContent), 0644))
	require.NoError(t, os.MkdirAll(filepath.Dir(fx.feature), 0755))
	require.NoError(t, os.WriteFile(fx.feature, []byte("Feature: Login"), 0644))
	require.NoError(t, os.WriteFile(fx.exe, []byte("MZ"), 0755))

	cfg := config.DefaultConfig()
	cfg.Project.EnvFile = ""
	deps, err := NewDependencies(zerolog.Nop(), cfg, dir, nil)
	require.NoError(t, err)
	deps.Generator = fx.generator

	fx.fixer = New(zerolog.Nop(), deps)
	return fx
}

func (fx *fixture) runConfig(t *testing.T, tokens ...string) *args.RunConfiguration {
	t.Helper()
	rc, err := args.ParseIn(append([]string{"--specflow-path", fx.exe}, tokens...), fx.dir)
	require.NoError(t, err)
	return rc
}

func TestRun_Success(t *testing.T) {
	fx := newFixture(t, xunitProject)
	fake := fx.csproj + transient.Suffix
	glueFile := fx.feature + ".cs"

	fx.generator.On("Generate", mock.Anything, fx.exe, fake).
		Run(func(mock.Arguments) {
			assert.FileExists(t, fake)
			require.NoError(t, os.WriteFile(glueFile, []byte(legacyGlue), 0644))
		}).
		Return(&generator.Result{Lines: 1}, nil).
		Once()

	report, err := fx.fixer.Run(context.Background(), fx.runConfig(t))
	require.NoError(t, err)
	fx.generator.AssertExpectations(t)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, framework.XUnit, report.Framework)
	assert.Equal(t, fx.csproj, report.Project)
	assert.True(t, report.Generator.Override)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{glueFile}, report.NewGlue)

	assert.NoFileExists(t, fake)
	assert.FileExists(t, filepath.Join(fx.dir, appconfig.FileName))

	data, err := os.ReadFile(glueFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), ": Xunit.IClassFixture<LoginFeature.FixtureData>")

	var path []RunState
	for _, tr := range report.Transitions {
		path = append(path, tr.To)
	}
	assert.Equal(t, []RunState{
		StateDescriptorLocated,
		StateFrameworkResolved,
		StateTransientBuilt,
		StateGenerated,
		StateFixed,
		StateDone,
	}, path)
}

func TestRun_TestFrameworkOverride(t *testing.T) {
	fx := newFixture(t, xunitProject)
	glueFile := fx.feature + ".cs"
	nunitGlue := "[NUnit.Framework.TestFixtureSetUpAttribute()]\n"

	fx.generator.On("Generate", mock.Anything, fx.exe, mock.Anything).
		Run(func(mock.Arguments) {
			require.NoError(t, os.WriteFile(glueFile, []byte(nunitGlue), 0644))
		}).
		Return(&generator.Result{}, nil)

	report, err := fx.fixer.Run(context.Background(), fx.runConfig(t, "--test-framework", "NUnit"))
	require.NoError(t, err)
	assert.Equal(t, framework.NUnit, report.Framework)

	data, err := os.ReadFile(glueFile)
	require.NoError(t, err)
	assert.Equal(t, "[NUnit.Framework.OneTimeSetUp()]\n", string(data))
}

func TestRun_GenerationFailureRemovesTransient(t *testing.T) {
	fx := newFixture(t, xunitProject)
	fake := fx.csproj + transient.Suffix
	glueFile := fx.feature + ".cs"
	require.NoError(t, os.WriteFile(glueFile, []byte(legacyGlue), 0644))

	genErr := common.NewFixerError(common.ErrCodeGenerationFailed, "SpecFlow generation failed (review the output).", "")
	fx.generator.On("Generate", mock.Anything, fx.exe, fake).Return(&generator.Result{Failed: true}, genErr)

	report, err := fx.fixer.Run(context.Background(), fx.runConfig(t))
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeGenerationFailed))

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StateTransientBuilt, stepErr.State)

	assert.Equal(t, StateFailed, report.State)
	assert.NoFileExists(t, fake)

	data, err := os.ReadFile(glueFile)
	require.NoError(t, err)
	assert.Equal(t, legacyGlue, string(data))
}

func TestRun_AmbiguousProjectFailsFirst(t *testing.T) {
	fx := newFixture(t, xunitProject)
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "Other.csproj"), []byte(xunitProject), 0644))

	report, err := fx.fixer.Run(context.Background(), fx.runConfig(t))
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeProjectAmbiguous))
	assert.Contains(t, err.Error(), "ambiguous")

	fx.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	assert.NoFileExists(t, filepath.Join(fx.dir, appconfig.FileName))
	assert.Equal(t, StateFailed, report.State)
	require.Len(t, report.Transitions, 1)
	assert.Equal(t, StateStart, report.Transitions[0].From)
}

func TestRun_MissingGeneratorStopsBeforeAppConfig(t *testing.T) {
	fx := newFixture(t, xunitProject)
	rc := fx.runConfig(t)
	rc.SpecFlowPath = filepath.Join(fx.dir, "missing.exe")

	_, err := fx.fixer.Run(context.Background(), rc)
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeGeneratorNotFound))
	assert.NoFileExists(t, filepath.Join(fx.dir, appconfig.FileName))
}

func TestRun_FrameworkMismatch(t *testing.T) {
	fx := newFixture(t, xunitProject)
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, appconfig.FileName), []byte(appconfig.Render(framework.MSTest)), 0644))

	_, err := fx.fixer.Run(context.Background(), fx.runConfig(t))
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeFrameworkMismatch))
	assert.NoFileExists(t, fx.csproj+transient.Suffix)
	fx.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunState_CanTransitionTo(t *testing.T) {
	assert.True(t, StateStart.CanTransitionTo(StateDescriptorLocated))
	assert.False(t, StateStart.CanTransitionTo(StateGenerated))
	assert.True(t, StateTransientBuilt.CanTransitionTo(StateFailed))
	assert.False(t, StateDone.CanTransitionTo(StateFailed))
	assert.False(t, StateFailed.CanTransitionTo(StateStart))
	assert.True(t, StateFixed.CanTransitionTo(StateDone))
	assert.True(t, StateGenerated.IsValid())
	assert.False(t, RunState("paused").IsValid())
}
