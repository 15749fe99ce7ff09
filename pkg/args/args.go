// Package args resolves the command line of a fix run into a RunConfiguration.
//
// Option values are not quoted: every token following a recognized option name, up to the next
// recognized option name, is joined with a single space. This lets paths such as
// "--working-directory C:\My Projects\Tests" arrive intact even when a shell has split them.
package args

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
	"github.com/stajs/SpecFlow.NetCore/pkg/framework"
	"github.com/stajs/SpecFlow.NetCore/pkg/transient"
)

// Recognized option names
const (
	SpecFlowPathArgName     = "--specflow-path"
	WorkingDirectoryArgName = "--working-directory"
	TestFrameworkArgName    = "--test-framework"
	ToolsVersionArgName     = "--tools-version"

	// Aliases accepted for the options above
	GeneratorPathArgName = "--generator-path"
	SchemaVersionArgName = "--schema-version"
)

// DefaultToolsVersion is used when --tools-version is not given
const DefaultToolsVersion = transient.DefaultToolsVersion

const optionSentinel = "--"

var canonicalNames = map[string]string{
	SpecFlowPathArgName:     SpecFlowPathArgName,
	GeneratorPathArgName:    SpecFlowPathArgName,
	WorkingDirectoryArgName: WorkingDirectoryArgName,
	TestFrameworkArgName:    TestFrameworkArgName,
	ToolsVersionArgName:     ToolsVersionArgName,
	SchemaVersionArgName:    ToolsVersionArgName,
}

// RunConfiguration holds the resolved settings for one run. It is not modified after Parse.
type RunConfiguration struct {
	// SpecFlowPath overrides generator discovery when set
	SpecFlowPath string
	// WorkingDirectory is the absolute path of the test project directory
	WorkingDirectory string
	// TestFramework overrides framework discovery when set
	TestFramework framework.Identity
	// ToolsVersion is written into the transient project descriptor
	ToolsVersion string
}

// HasTestFrameworkOverride reports whether the framework was given explicitly
func (c *RunConfiguration) HasTestFrameworkOverride() bool {
	return c.TestFramework != ""
}

// IsOptionName reports whether token is a recognized option name or alias
func IsOptionName(token string) bool {
	_, ok := canonicalNames[token]
	return ok
}

// Parse resolves tokens relative to the process working directory
func Parse(tokens []string) (*RunConfiguration, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeIO, "failed to determine current directory", err)
	}
	return ParseIn(tokens, cwd)
}

// ParseIn resolves tokens, using cwd as the default working directory and as the base of a
// relative --working-directory value.
func ParseIn(tokens []string, cwd string) (*RunConfiguration, error) {
	values, err := collect(tokens)
	if err != nil {
		return nil, err
	}

	cfg := &RunConfiguration{
		SpecFlowPath: values[SpecFlowPathArgName],
		ToolsVersion: common.CoalesceString(values[ToolsVersionArgName], DefaultToolsVersion),
	}

	workingDir := common.CoalesceString(values[WorkingDirectoryArgName], cwd)
	if !filepath.IsAbs(workingDir) {
		workingDir = filepath.Join(cwd, workingDir)
	}
	workingDir = filepath.Clean(workingDir)
	if !common.DirExists(workingDir) {
		return nil, common.NewFixerError(
			common.ErrCodeWorkingDirNotFound,
			"Working directory doesn't exist: "+workingDir,
			"",
		)
	}
	cfg.WorkingDirectory = workingDir

	if name := values[TestFrameworkArgName]; name != "" {
		id, err := framework.Parse(name)
		if err != nil {
			return nil, err
		}
		cfg.TestFramework = id
	}

	if cfg.SpecFlowPath != "" && !filepath.IsAbs(cfg.SpecFlowPath) {
		cfg.SpecFlowPath = filepath.Join(cwd, cfg.SpecFlowPath)
	}

	return cfg, nil
}

// collect groups tokens under the option they follow. Values are space-joined; a repeated option
// replaces the earlier value.
func collect(tokens []string) (map[string]string, error) {
	values := make(map[string]string)
	parts := make(map[string][]string)
	current := ""

	for _, token := range tokens {
		if strings.HasPrefix(token, optionSentinel) {
			name, ok := canonicalNames[token]
			if !ok {
				return nil, unknownArgument(token)
			}
			current = name
			parts[current] = nil
			continue
		}
		if current == "" {
			return nil, unknownArgument(token)
		}
		parts[current] = append(parts[current], token)
	}

	for name, words := range parts {
		values[name] = strings.TrimSpace(strings.Join(words, " "))
	}
	return values, nil
}

func unknownArgument(token string) error {
	return common.NewFixerError(
		common.ErrCodeUnknownArgument,
		"Unknown argument: "+token,
		fmt.Sprintf("recognized options: %s, %s, %s, %s",
			SpecFlowPathArgName, WorkingDirectoryArgName, TestFrameworkArgName, ToolsVersionArgName),
	)
}
