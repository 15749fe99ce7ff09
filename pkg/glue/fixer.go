// Package glue rewrites SpecFlow generated code-behind files so they compile against current
// versions of each unit test framework.
package glue

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
	"github.com/stajs/SpecFlow.NetCore/pkg/framework"
)

// Pattern is the double extension of generated glue files
const Pattern = ".feature.cs"

// replacement is a literal substitution
type replacement struct {
	old string
	new string
}

var xunitReplacements = []replacement{
	{" : Xunit.IUseFixture<", " : Xunit.IClassFixture<"},
	{"[Xunit.Extensions", "[Xunit"},
}

var nunitReplacements = []replacement{
	{"[NUnit.Framework.TestFixtureSetUpAttribute()]", "[NUnit.Framework.OneTimeSetUp()]"},
	{"[NUnit.Framework.TestFixtureTearDownAttribute()]", "[NUnit.Framework.OneTimeTearDown()]"},
}

// mstestDescription is removed wherever it appears on a line
const mstestDescription = "Microsoft.VisualStudio.TestTools.UnitTesting.Description"

// Fix returns content with the substitutions for id applied
func Fix(id framework.Identity, content string) string {
	switch id {
	case framework.XUnit:
		return replaceAll(content, xunitReplacements)
	case framework.NUnit:
		return replaceAll(content, nunitReplacements)
	case framework.MSTest:
		return removeLines(content, mstestDescription)
	default:
		return content
	}
}

func replaceAll(content string, replacements []replacement) string {
	for _, r := range replacements {
		content = strings.ReplaceAll(content, r.old, r.new)
	}
	return content
}

// removeLines drops every line containing needle, keeping the original line endings
func removeLines(content, needle string) string {
	if !strings.Contains(content, needle) {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))
	for _, line := range strings.SplitAfter(content, "\n") {
		if strings.Contains(line, needle) {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// Report summarizes a FixAll pass
type Report struct {
	Scanned []string
	Changed []string
}

// Fixer applies Fix to every glue file below a directory
type Fixer struct {
	logger zerolog.Logger
}

// NewFixer creates a fixer
func NewFixer(logger zerolog.Logger) *Fixer {
	return &Fixer{logger: logger.With().Str("component", "glue").Logger()}
}

// FixAll rewrites every *.feature.cs under dir for id. Files are only written when their
// content changes, so running it twice leaves the second pass with nothing to do.
func (f *Fixer) FixAll(dir string, id framework.Identity) (*Report, error) {
	f.logger.Info().Str("framework", id.String()).Msg("Fixing SpecFlow generated files")

	files, err := Find(dir)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, path := range files {
		changed, err := f.FixFile(path, id)
		if err != nil {
			return report, err
		}
		report.Scanned = append(report.Scanned, path)
		if changed {
			report.Changed = append(report.Changed, path)
		}
	}

	f.logger.Info().Int("scanned", len(report.Scanned)).Int("changed", len(report.Changed)).Msg("Fixed generated files")
	return report, nil
}

// FixFile fixes a single glue file and reports whether it was rewritten
func (f *Fixer) FixFile(path string, id framework.Identity) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, common.WrapFixerError(common.ErrCodeIO, "failed to read "+path, err)
	}

	content := string(data)
	fixed := Fix(id, content)
	if fixed == content {
		f.logger.Debug().Str("path", path).Msg("Nothing to fix")
		return false, nil
	}

	f.logger.Info().Str("path", path).Msg("Fixing")
	if err := common.WriteFilePreservingMode(path, []byte(fixed)); err != nil {
		return false, common.WrapFixerError(common.ErrCodeIO, "failed to write "+path, err)
	}
	return true, nil
}

// Find returns every glue file below dir, sorted
func Find(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && common.HasSuffixFold(d.Name(), Pattern) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeIO, "failed to enumerate generated files in "+dir, err)
	}
	sort.Strings(files)
	return files, nil
}
