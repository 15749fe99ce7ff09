// Package locator finds the SpecFlow generator executable for a host project.
package locator

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
	"github.com/stajs/SpecFlow.NetCore/pkg/project"
)

// Generator package and install layout
const (
	PackageName    = "specflow"
	ExecutableName = "specflow.exe"
	ToolsDir       = "tools"

	// PackagesEnvVar names the NuGet package cache root; when set it is the only root searched
	PackagesEnvVar = "NUGET_PACKAGES"
	// ProfileEnvVar names the user profile directory holding the default .nuget cache
	ProfileEnvVar = "USERPROFILE"
	// HomeEnvVar is consulted when ProfileEnvVar is unset
	HomeEnvVar = "HOME"

	// PathOptionName is suggested in not-found errors
	PathOptionName = "--specflow-path"
)

// GeneratorLocation is a resolved generator executable
type GeneratorLocation struct {
	Path    string
	Version string
	// Override is true when the path was supplied by the user
	Override bool
}

// EnvFunc looks up an environment variable
type EnvFunc func(key string) (string, bool)

// Locator resolves the generator executable
type Locator struct {
	logger zerolog.Logger
	env    EnvFunc
}

// New creates a locator backed by the process environment
func New(logger zerolog.Logger) *Locator {
	return NewWithEnv(logger, os.LookupEnv)
}

// NewWithEnv creates a locator backed by env
func NewWithEnv(logger zerolog.Logger, env EnvFunc) *Locator {
	if env == nil {
		env = os.LookupEnv
	}
	return &Locator{
		logger: logger.With().Str("component", "locator").Logger(),
		env:    env,
	}
}

// DotEnv returns an EnvFunc that prefers the process environment and falls back to the
// variables in the dotenv file at path. A missing file yields the process environment alone.
func DotEnv(path string) (EnvFunc, error) {
	if path == "" || !common.FileExists(path) {
		return os.LookupEnv, nil
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeConfigInvalid, "failed to read env file "+path, err)
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

// Locate resolves the generator. A non-empty override must point at an existing file; otherwise
// the version declared by host is looked up in the package cache roots.
func (l *Locator) Locate(host *project.HostDescriptor, override string) (*GeneratorLocation, error) {
	if override != "" {
		if !common.FileExists(override) {
			return nil, common.NewFixerError(
				common.ErrCodeGeneratorNotFound,
				"Path to SpecFlow was supplied as an argument, but doesn't exist: "+override,
				"",
			)
		}
		l.logger.Info().Str("path", override).Msg("Using SpecFlow from argument")
		return &GeneratorLocation{Path: override, Override: true}, nil
	}

	pkg, ok := host.Package(PackageName)
	if !ok || strings.TrimSpace(pkg.Version) == "" {
		return nil, common.NewFixerError(
			common.ErrCodeVersionNotDeclared,
			"Could not get SpecFlow version from: "+host.Path,
			fmt.Sprintf("searched %d imported project file(s)", len(host.Imports)),
		)
	}
	version := strings.TrimSpace(pkg.Version)

	path, resolved, err := l.find(version)
	if err != nil {
		return nil, err
	}

	l.logger.Info().Str("path", path).Str("version", resolved).Msg("Found SpecFlow")
	return &GeneratorLocation{Path: path, Version: resolved}, nil
}

func (l *Locator) find(version string) (string, string, error) {
	if root := l.lookup(PackagesEnvVar); root != "" {
		path := executablePath(root, version)
		if common.FileExists(path) {
			return path, version, nil
		}
		return "", "", common.NewFixerError(
			common.ErrCodeGeneratorNotFound,
			fmt.Sprintf("%s environment variable found, but SpecFlow doesn't exist: %s", PackagesEnvVar, path),
			"",
		)
	}

	root := filepath.Join(l.profileDir(), ".nuget", "packages")
	path := executablePath(root, version)
	if !isPattern(version) && common.FileExists(path) {
		return path, version, nil
	}

	if chosen, candidates := latestInstalled(root, version); chosen != "" {
		l.logger.Warn().
			Str("declared", version).
			Str("chosen", chosen).
			Strs("installed", candidates).
			Msg("Declared SpecFlow version not installed, using the greatest installed version")
		return executablePath(root, chosen), chosen, nil
	}

	return "", "", common.NewFixerError(
		common.ErrCodeGeneratorNotFound,
		fmt.Sprintf("Can't find SpecFlow: %s\nTry specifying the path with %s.", path, PathOptionName),
		"",
	)
}

func (l *Locator) lookup(key string) string {
	v, ok := l.env(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func (l *Locator) profileDir() string {
	if dir := l.lookup(ProfileEnvVar); dir != "" {
		return dir
	}
	if dir := l.lookup(HomeEnvVar); dir != "" {
		return dir
	}
	if dir, err := os.UserHomeDir(); err == nil {
		return dir
	}
	if runtime.GOOS == "windows" {
		return `C:\`
	}
	return "/"
}

func executablePath(root, version string) string {
	return filepath.Join(root, PackageName, version, ToolsDir, ExecutableName)
}

// isPattern reports whether version is a floating NuGet version such as "2.*"
func isPattern(version string) bool {
	return strings.Contains(version, "*")
}

// latestInstalled ranks the installed version directories that contain the executable and
// match the declared version's prefix. Ordering is lexicographic, not semantic: "2.10.0" sorts
// before "2.9.0".
func latestInstalled(root, version string) (string, []string) {
	entries, err := os.ReadDir(filepath.Join(root, PackageName))
	if err != nil {
		return "", nil
	}

	prefix := ""
	if isPattern(version) {
		prefix = strings.ToLower(version[:strings.Index(version, "*")])
	}

	var candidates []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(strings.ToLower(name), prefix) {
			continue
		}
		if !common.FileExists(executablePath(root, name)) {
			continue
		}
		candidates = append(candidates, name)
	}

	if len(candidates) == 0 {
		return "", nil
	}
	sort.Strings(candidates)
	return candidates[len(candidates)-1], candidates
}
