// Package appconfig maintains the app.config file SpecFlow reads to learn which unit test
// provider to generate code for.
package appconfig

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
	"github.com/stajs/SpecFlow.NetCore/pkg/framework"
	"github.com/stajs/SpecFlow.NetCore/pkg/project"
)

const (
	// FileName is the configuration file SpecFlow expects next to the project
	FileName = "app.config"

	// SectionName is the name of the configSections entry for SpecFlow
	SectionName = "specFlow"

	// SectionHandlerType is the handler SpecFlow registers its section with
	SectionHandlerType = "TechTalk.SpecFlow.Configuration.ConfigurationSectionHandler, TechTalk.SpecFlow"
)

const sectionDefinitionExample = `<configSections>
	<section name="specFlow" type="` + SectionHandlerType + `" />
</configSections>`

const sectionExample = `<specFlow>
	<unitTestProvider name="xunit" />
</specFlow>`

// utf8BOM is skipped before parsing
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// providerAttr matches the name attribute inside a unitTestProvider start tag
var providerAttr = regexp.MustCompile(`(<unitTestProvider\b[^>]*?\bname\s*=\s*)(["'])([^"']*)(["'])`)

// Render returns the content of a new app.config for id
func Render(id framework.Identity) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString("<configuration>\n")
	b.WriteString("\t<configSections>\n")
	fmt.Fprintf(&b, "\t\t<section name=\"%s\" type=\"%s\" />\n", SectionName, SectionHandlerType)
	b.WriteString("\t</configSections>\n")
	fmt.Fprintf(&b, "\t<%s>\n", SectionName)
	fmt.Fprintf(&b, "\t\t<unitTestProvider name=\"%s\" />\n", id)
	if id == framework.MSTest {
		// Scenario outline rows are attributed to the wrong class without debug output
		b.WriteString("\t\t<generator allowDebugGeneratedFiles=\"true\" />\n")
	}
	fmt.Fprintf(&b, "\t</%s>\n", SectionName)
	b.WriteString("</configuration>\n")
	return b.String()
}

// Settings are the values read back from an app.config
type Settings struct {
	SectionType string
	Provider    string
}

type configurationFile struct {
	XMLName  xml.Name             `xml:"configuration"`
	Sections []sectionDeclaration `xml:"configSections>section"`
	SpecFlow *specFlowSection     `xml:"specFlow"`
}

type sectionDeclaration struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

type specFlowSection struct {
	Provider *struct {
		Name string `xml:"name,attr"`
	} `xml:"unitTestProvider"`
}

// Parse extracts the SpecFlow settings from app.config content
func Parse(data []byte) (*Settings, error) {
	var file configurationFile
	if err := xml.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &file); err != nil {
		return nil, err
	}

	settings := &Settings{}
	for _, section := range file.Sections {
		if section.Name == SectionName {
			settings.SectionType = strings.TrimSpace(section.Type)
			break
		}
	}
	if file.SpecFlow != nil && file.SpecFlow.Provider != nil {
		settings.Provider = strings.TrimSpace(file.SpecFlow.Provider.Name)
	}
	return settings, nil
}

// Validate checks that the settings declare the SpecFlow section handler and a provider
func (s *Settings) Validate() error {
	if s.SectionType != SectionHandlerType {
		return common.NewFixerError(
			common.ErrCodeAppConfigInvalid,
			"Couldn't find required SpecFlow section handler in app.config. Example:\n"+sectionDefinitionExample,
			s.SectionType,
		)
	}
	if s.Provider == "" {
		return common.NewFixerError(
			common.ErrCodeAppConfigInvalid,
			"Couldn't find required SpecFlow element in app.config. Example:\n"+sectionExample,
			"",
		)
	}
	return nil
}

// Result describes what Ensure did
type Result struct {
	Path      string
	Framework framework.Identity
	Created   bool
	Updated   bool
}

// Manager creates, validates and reconciles app.config
type Manager struct {
	logger zerolog.Logger
}

// NewManager creates a manager
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger.With().Str("component", "appconfig").Logger()}
}

// Ensure makes sure dir holds a valid app.config and returns the framework identity the glue
// must be generated for. override, when set, wins over every other source.
func (m *Manager) Ensure(dir string, host *project.HostDescriptor, override framework.Identity) (*Result, error) {
	path := filepath.Join(dir, FileName)

	if !common.FileExists(path) {
		return m.create(path, host, override)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeIO, "failed to read "+path, err)
	}

	m.logger.Info().Str("path", path).Msg("Validating app.config")
	settings, err := Parse(data)
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeAppConfigInvalid, "Invalid app.config: "+path, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	if override != "" {
		return m.reconcile(path, data, settings, override)
	}

	declared, err := framework.Parse(settings.Provider)
	if err != nil {
		return nil, err
	}

	hostFrameworks := host.TestFrameworks()
	if len(hostFrameworks) > 0 && !slices.Contains(hostFrameworks, declared) {
		return nil, common.NewFixerError(
			common.ErrCodeFrameworkMismatch,
			fmt.Sprintf("Test framework mismatch: app.config uses %q but %s references %s",
				settings.Provider, filepath.Base(host.Path), joinIdentities(hostFrameworks)),
			fmt.Sprintf("Change the unitTestProvider in %s or pass --test-framework", path),
		)
	}

	m.logger.Info().Str("framework", declared.String()).Msg("Using test framework")
	return &Result{Path: path, Framework: declared}, nil
}

func (m *Manager) create(path string, host *project.HostDescriptor, override framework.Identity) (*Result, error) {
	id, err := m.resolve(host, override)
	if err != nil {
		return nil, err
	}
	m.logger.Info().Str("framework", id.String()).Msg("Using test framework")

	content := Render(id)
	m.logger.Info().Str("path", path).Msg("Generating app.config")
	m.logger.Debug().Msg(content)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, common.WrapFixerError(common.ErrCodeIO, "failed to write "+path, err)
	}
	return &Result{Path: path, Framework: id, Created: true}, nil
}

// resolve picks the framework for a new app.config
func (m *Manager) resolve(host *project.HostDescriptor, override framework.Identity) (framework.Identity, error) {
	if override != "" {
		return override, nil
	}

	declared := host.TestFrameworks()
	switch len(declared) {
	case 0:
		m.logger.Warn().
			Str("default", framework.Default.String()).
			Msg("No test framework referenced by the project, defaulting. Use --test-framework to choose one")
		return framework.Default, nil
	case 1:
		return declared[0], nil
	default:
		return "", common.NewFixerError(
			common.ErrCodeFrameworkAmbiguous,
			fmt.Sprintf("%s references more than one test framework (%s); use --test-framework to choose",
				filepath.Base(host.Path), joinIdentities(declared)),
			"",
		)
	}
}

// reconcile rewrites the provider name in place when it differs from override
func (m *Manager) reconcile(path string, data []byte, settings *Settings, override framework.Identity) (*Result, error) {
	result := &Result{Path: path, Framework: override}

	if current, err := framework.Parse(settings.Provider); err == nil && current == override {
		m.logger.Info().Str("framework", override.String()).Msg("Using test framework")
		return result, nil
	}

	start, end, ok := providerTag(data)
	var loc []int
	if ok {
		loc = providerAttr.FindSubmatchIndex(data[start:end])
	}
	if loc == nil {
		return nil, common.NewFixerError(
			common.ErrCodeAppConfigInvalid,
			"Couldn't find unitTestProvider name attribute in "+path,
			"",
		)
	}

	var updated bytes.Buffer
	updated.Write(data[:start+loc[6]])
	updated.WriteString(string(override))
	updated.Write(data[start+loc[7]:])

	written, err := Parse(updated.Bytes())
	if err != nil || written.Provider != string(override) {
		return nil, common.NewFixerError(
			common.ErrCodeAppConfigInvalid,
			"Couldn't change unitTestProvider in "+path,
			"",
		)
	}

	if err := common.WriteFilePreservingMode(path, updated.Bytes()); err != nil {
		return nil, common.WrapFixerError(common.ErrCodeIO, "failed to write "+path, err)
	}

	m.logger.Info().
		Str("path", path).
		Str("from", settings.Provider).
		Str("to", override.String()).
		Msg("Changed unitTestProvider in app.config")

	result.Updated = true
	return result, nil
}

// providerTag returns the byte range of the configuration/specFlow/unitTestProvider start tag
// Parse reads. Comments and other sections are skipped by the decoder, so a commented-out
// element is never matched. When the element repeats, the last one wins as it does in Parse.
func providerTag(data []byte) (start, end int, ok bool) {
	body := bytes.TrimPrefix(data, utf8BOM)
	shift := len(data) - len(body)

	decoder := xml.NewDecoder(bytes.NewReader(body))
	var stack []string
	for {
		offset := decoder.InputOffset()
		tok, err := decoder.Token()
		if err == io.EOF {
			return start, end, ok
		}
		if err != nil {
			return 0, 0, false
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if len(stack) == 3 && stack[0] == "configuration" && stack[1] == SectionName && stack[2] == "unitTestProvider" {
				start, end, ok = shift+int(offset), shift+int(decoder.InputOffset()), true
			}
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}
}

func joinIdentities(ids []framework.Identity) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return strings.Join(names, ", ")
}
