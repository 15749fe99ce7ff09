// Package transient writes the short-lived project file that drives "specflow.exe generateall".
//
// SpecFlow's generator only understands the classic MSBuild schema, so SDK-style projects are
// described to it through a separate file listing app.config and every feature file.
package transient

import (
	"encoding/xml"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
	"github.com/stajs/SpecFlow.NetCore/pkg/project"
)

const (
	// Suffix is appended to the host project path to name the transient file
	Suffix = ".fake"

	// DefaultToolsVersion is the VS2013 ToolsVersion; newer values break SpecFlow 1.x/2.x
	DefaultToolsVersion = "14.0"

	// SingleFileGenerator is the custom tool SpecFlow registers for feature files
	SingleFileGenerator = "SpecFlowSingleFileGenerator"

	// MSBuildNamespace is the classic MSBuild schema namespace
	MSBuildNamespace = "http://schemas.microsoft.com/developer/msbuild/2003"

	rootNamespace = "SpecFlow.GeneratedTests"
	configFile    = "app.config"
)

// Document is the XML form of the transient project file
type Document struct {
	XMLName        xml.Name      `xml:"http://schemas.microsoft.com/developer/msbuild/2003 Project"`
	ToolsVersion   string        `xml:"ToolsVersion,attr"`
	DefaultTargets string        `xml:"DefaultTargets,attr,omitempty"`
	Properties     PropertyGroup `xml:"PropertyGroup"`
	Items          ItemGroup     `xml:"ItemGroup"`
}

// PropertyGroup names the generated assembly
type PropertyGroup struct {
	RootNamespace string `xml:"RootNamespace"`
	AssemblyName  string `xml:"AssemblyName"`
}

// ItemGroup holds the None items handed to the generator
type ItemGroup struct {
	Items []Item `xml:"None"`
}

// Item is a single None item
type Item struct {
	Include       string `xml:"Include,attr"`
	SubType       string `xml:"SubType,omitempty"`
	Generator     string `xml:"Generator,omitempty"`
	LastGenOutput string `xml:"LastGenOutput,omitempty"`
}

// Features returns the Include values of the items generated by SpecFlow
func (d *Document) Features() []string {
	var features []string
	for _, item := range d.Items.Items {
		if item.Generator == SingleFileGenerator {
			features = append(features, item.Include)
		}
	}
	return features
}

// Descriptor is a transient project file on disk
type Descriptor struct {
	Path  string
	Specs []project.SpecificationFile

	logger zerolog.Logger
}

// Remove deletes the transient file. Removing an already removed file is not an error.
func (d *Descriptor) Remove() error {
	d.logger.Info().Str("path", d.Path).Msg("Removing transient project")
	if err := os.Remove(d.Path); err != nil && !os.IsNotExist(err) {
		return common.WrapFixerError(common.ErrCodeIO, "failed to remove "+d.Path, err)
	}
	return nil
}

// Builder creates transient project files
type Builder struct {
	logger zerolog.Logger
}

// NewBuilder creates a builder
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{logger: logger.With().Str("component", "transient").Logger()}
}

// Build renders a project listing specs relative to workDir and writes it next to the host
// project. The caller must Remove the returned descriptor.
func (b *Builder) Build(host *project.HostDescriptor, specs []project.SpecificationFile, toolsVersion, workDir string) (*Descriptor, error) {
	doc := NewDocument(specs, toolsVersion, workDir)

	data, err := Marshal(doc)
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeIO, "failed to render transient project", err)
	}

	path := host.Path + Suffix
	b.logger.Info().Str("path", path).Int("features", len(specs)).Msg("Saving transient project")
	b.logger.Debug().Strs("includes", doc.Features()).Msg(string(data))

	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, common.WrapFixerError(common.ErrCodeIO, "failed to write "+path, err)
	}

	return &Descriptor{Path: path, Specs: specs, logger: b.logger}, nil
}

// NewDocument builds the in-memory project for specs
func NewDocument(specs []project.SpecificationFile, toolsVersion, workDir string) *Document {
	doc := &Document{
		ToolsVersion:   common.CoalesceString(toolsVersion, DefaultToolsVersion),
		DefaultTargets: "Build",
		Properties: PropertyGroup{
			RootNamespace: rootNamespace,
			AssemblyName:  rootNamespace,
		},
	}

	doc.Items.Items = append(doc.Items.Items, Item{Include: configFile, SubType: "Designer"})
	for _, spec := range specs {
		rel := relativeTo(workDir, spec.Path)
		doc.Items.Items = append(doc.Items.Items, Item{
			Include:       rel,
			Generator:     SingleFileGenerator,
			LastGenOutput: rel + project.GlueExtension,
		})
	}
	return doc
}

// Marshal renders doc with an XML declaration
func Marshal(doc *Document) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", "\t")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

func relativeTo(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return path
	}
	return rel
}
