// Package project reads the host .csproj: the packages it declares (following Import chains),
// the feature files it links from elsewhere, and the feature files under its directory.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
	"github.com/stajs/SpecFlow.NetCore/pkg/framework"
)

// File name conventions
const (
	ProjectExtension = ".csproj"
	FeatureExtension = ".feature"
	GlueExtension    = ".cs"
)

// PackageReference is a PackageReference item found in the host or one of its imports
type PackageReference struct {
	Name       string
	Version    string
	DeclaredIn string
}

// HostDescriptor is a read-only view of the host project file
type HostDescriptor struct {
	// Path is the absolute path of the .csproj
	Path string
	// Packages in declaration order: the host's own first, then each import depth-first
	Packages []PackageReference
	// Imports lists the imported project files that were followed
	Imports []string
	// LinkedSpecs are absolute paths of existing feature files included with a Link
	LinkedSpecs []string
}

// Dir returns the directory containing the host project file
func (h *HostDescriptor) Dir() string {
	return filepath.Dir(h.Path)
}

// Package returns the first reference whose name matches, ignoring case. A reference carrying a
// version is preferred over one without, so a version supplied by an import is still found.
func (h *HostDescriptor) Package(name string) (PackageReference, bool) {
	var first PackageReference
	found := false
	for _, pkg := range h.Packages {
		if !strings.EqualFold(pkg.Name, name) {
			continue
		}
		if strings.TrimSpace(pkg.Version) != "" {
			return pkg, true
		}
		if !found {
			first, found = pkg, true
		}
	}
	return first, found
}

// TestFrameworks returns the distinct frameworks declared by package references, in order
func (h *HostDescriptor) TestFrameworks() []framework.Identity {
	var found []framework.Identity
	seen := make(map[framework.Identity]bool)
	for _, pkg := range h.Packages {
		id, ok := framework.FromPackage(pkg.Name)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		found = append(found, id)
	}
	return found
}

// Locate finds the single .csproj at the top level of dir
func Locate(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", common.WrapFixerError(common.ErrCodeIO, "failed to read directory "+dir, err)
	}

	var projects []string
	for _, entry := range entries {
		if entry.IsDir() || !common.HasExtension(entry.Name(), ProjectExtension) {
			continue
		}
		projects = append(projects, filepath.Join(dir, entry.Name()))
	}

	switch len(projects) {
	case 0:
		return "", common.NewFixerError(
			common.ErrCodeProjectNotFound,
			fmt.Sprintf("Could not find '%s' in %s", ProjectExtension, dir),
			"",
		)
	case 1:
		return projects[0], nil
	default:
		sort.Strings(projects)
		return "", common.NewFixerError(
			common.ErrCodeProjectAmbiguous,
			fmt.Sprintf("More than one '%s' found in %s (ambiguous)", ProjectExtension, dir),
			strings.Join(projects, ", "),
		)
	}
}

// SpecificationFile is a feature file handed to the generator
type SpecificationFile struct {
	Path   string
	Linked bool
}

// GluePath returns the path of the code-behind file SpecFlow generates for the feature
func (s SpecificationFile) GluePath() string {
	return s.Path + GlueExtension
}

// HasGlue reports whether the generated code-behind file exists
func (s SpecificationFile) HasGlue() bool {
	return common.FileExists(s.GluePath())
}

// DiscoverSpecifications returns every feature file under dir plus those linked from host,
// without duplicates and sorted by path.
func DiscoverSpecifications(dir string, host *HostDescriptor) ([]SpecificationFile, error) {
	byPath := make(map[string]SpecificationFile)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !common.HasExtension(path, FeatureExtension) {
			return nil
		}
		byPath[filepath.Clean(path)] = SpecificationFile{Path: filepath.Clean(path)}
		return nil
	})
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeIO, "failed to enumerate feature files in "+dir, err)
	}

	if host != nil {
		for _, linked := range host.LinkedSpecs {
			path := filepath.Clean(linked)
			if _, ok := byPath[path]; ok {
				continue
			}
			byPath[path] = SpecificationFile{Path: path, Linked: true}
		}
	}

	specs := make([]SpecificationFile, 0, len(byPath))
	for _, spec := range byPath {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Path < specs[j].Path })
	return specs, nil
}
