package args

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
	"github.com/stajs/SpecFlow.NetCore/pkg/framework"
)

func TestParseIn_Defaults(t *testing.T) {
	cwd := t.TempDir()

	cfg, err := ParseIn(nil, cwd)
	require.NoError(t, err)

	assert.Equal(t, cwd, cfg.WorkingDirectory)
	assert.Empty(t, cfg.SpecFlowPath)
	assert.False(t, cfg.HasTestFrameworkOverride())
	assert.Equal(t, DefaultToolsVersion, cfg.ToolsVersion)
}

func TestParseIn_AllOptions(t *testing.T) {
	cwd := t.TempDir()
	work := filepath.Join(cwd, "My Tests")
	require.NoError(t, os.Mkdir(work, 0755))

	tokens := []string{
		"--specflow-path", "/opt/specflow/tools/specflow.exe",
		"--working-directory", filepath.Join(cwd, "My"), "Tests",
		"--test-framework", "NUnit",
		"--tools-version", "15.0",
	}

	cfg, err := ParseIn(tokens, cwd)
	require.NoError(t, err)

	assert.Equal(t, "/opt/specflow/tools/specflow.exe", cfg.SpecFlowPath)
	assert.Equal(t, work, cfg.WorkingDirectory)
	assert.Equal(t, framework.NUnit, cfg.TestFramework)
	assert.Equal(t, "15.0", cfg.ToolsVersion)
}

func TestParseIn_Aliases(t *testing.T) {
	cwd := t.TempDir()

	cfg, err := ParseIn([]string{"--generator-path", "tools/specflow.exe", "--schema-version", "4.0"}, cwd)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cwd, "tools", "specflow.exe"), cfg.SpecFlowPath)
	assert.Equal(t, "4.0", cfg.ToolsVersion)
}

func TestParseIn_RelativeWorkingDirectory(t *testing.T) {
	cwd := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(cwd, "tests"), 0755))

	cfg, err := ParseIn([]string{"--working-directory", "tests"}, cwd)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "tests"), cfg.WorkingDirectory)
}

func TestParseIn_LastOptionWins(t *testing.T) {
	cwd := t.TempDir()

	cfg, err := ParseIn([]string{"--test-framework", "xunit", "--test-framework", "mstest"}, cwd)
	require.NoError(t, err)
	assert.Equal(t, framework.MSTest, cfg.TestFramework)
}

func TestParseIn_OptionWithoutValue(t *testing.T) {
	cwd := t.TempDir()

	cfg, err := ParseIn([]string{"--tools-version"}, cwd)
	require.NoError(t, err)
	assert.Equal(t, DefaultToolsVersion, cfg.ToolsVersion)
}

func TestParseIn_UnknownArgument(t *testing.T) {
	cwd := t.TempDir()

	tests := []struct {
		name   string
		tokens []string
	}{
		{name: "unknown_option", tokens: []string{"--verbose"}},
		{name: "leading_value", tokens: []string{"xunit", "--test-framework", "nunit"}},
		{name: "unknown_after_known", tokens: []string{"--test-framework", "nunit", "--force"}},
		{name: "single_dash", tokens: []string{"-w", "."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseIn(tt.tokens, cwd)
			require.Error(t, err)
			assert.True(t, common.IsCode(err, common.ErrCodeUnknownArgument))
			assert.Contains(t, strings.ToLower(err.Error()), "unknown argument")
		})
	}
}

func TestParseIn_MissingWorkingDirectory(t *testing.T) {
	cwd := t.TempDir()

	_, err := ParseIn([]string{"--working-directory", filepath.Join(cwd, "nope")}, cwd)
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeWorkingDirNotFound))
	assert.Contains(t, err.Error(), "nope")
}

func TestParseIn_WorkingDirectoryIsFile(t *testing.T) {
	cwd := t.TempDir()
	file := filepath.Join(cwd, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := ParseIn([]string{"--working-directory", file}, cwd)
	assert.True(t, common.IsCode(err, common.ErrCodeWorkingDirNotFound))
}

func TestParseIn_UnknownFramework(t *testing.T) {
	_, err := ParseIn([]string{"--test-framework", "jest"}, t.TempDir())
	assert.True(t, common.IsCode(err, common.ErrCodeFrameworkUnknown))
}

func TestIsOptionName(t *testing.T) {
	assert.True(t, IsOptionName("--specflow-path"))
	assert.True(t, IsOptionName("--schema-version"))
	assert.False(t, IsOptionName("--help"))
}
