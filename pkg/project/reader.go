package project

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
)

// DefaultCacheSize bounds the number of parsed project files kept between runs
const DefaultCacheSize = 64

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// document holds the raw facts extracted from one project file
type document struct {
	packages []PackageReference
	imports  []string
	links    []string
}

type cachedDocument struct {
	modTime time.Time
	size    int64
	doc     *document
}

// Reader parses host project files. Parsed files are memoized by path and invalidated when the
// file's size or modification time changes, so a long-lived Reader (watch mode) stays correct.
type Reader struct {
	logger zerolog.Logger
	cache  *lru.Cache[string, cachedDocument]
}

// NewReader creates a reader with an LRU cache of the given size
func NewReader(logger zerolog.Logger, cacheSize int) (*Reader, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, cachedDocument](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create descriptor cache: %w", err)
	}
	return &Reader{
		logger: logger.With().Str("component", "project").Logger(),
		cache:  cache,
	}, nil
}

// Load locates the single .csproj in dir and reads it
func (r *Reader) Load(dir string) (*HostDescriptor, error) {
	path, err := Locate(dir)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Str("path", path).Msg("Found project")
	return r.Read(path)
}

// Read parses the project file at path and every project file it imports
func (r *Reader) Read(path string) (*HostDescriptor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeIO, "failed to resolve "+path, err)
	}

	doc, err := r.document(abs)
	if err != nil {
		return nil, err
	}

	host := &HostDescriptor{Path: abs}
	host.Packages = append(host.Packages, doc.packages...)
	host.LinkedSpecs = r.resolveLinks(abs, doc.links)

	visited := map[string]bool{abs: true}
	if err := r.followImports(abs, doc, host, visited); err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("path", abs).
		Int("packages", len(host.Packages)).
		Int("imports", len(host.Imports)).
		Int("linked_features", len(host.LinkedSpecs)).
		Msg("Project read")

	return host, nil
}

func (r *Reader) followImports(from string, doc *document, host *HostDescriptor, visited map[string]bool) error {
	baseDir := filepath.Dir(from)

	for _, raw := range doc.imports {
		if strings.Contains(raw, "$(") {
			r.logger.Debug().Str("import", raw).Str("from", from).Msg("Skipping import with MSBuild properties")
			continue
		}

		path := resolvePath(baseDir, raw)
		if !common.FileExists(path) {
			r.logger.Debug().Str("import", path).Msg("Skipping missing import")
			continue
		}
		if visited[path] {
			continue
		}
		visited[path] = true

		imported, err := r.document(path)
		if err != nil {
			return err
		}

		host.Imports = append(host.Imports, path)
		host.Packages = append(host.Packages, imported.packages...)

		if err := r.followImports(path, imported, host, visited); err != nil {
			return err
		}
	}

	return nil
}

func (r *Reader) resolveLinks(from string, links []string) []string {
	baseDir := filepath.Dir(from)
	var resolved []string

	for _, raw := range links {
		path := resolvePath(baseDir, raw)
		if !common.HasExtension(path, FeatureExtension) {
			continue
		}
		if !common.FileExists(path) {
			r.logger.Warn().Str("path", path).Msg("Linked feature file doesn't exist")
			continue
		}
		resolved = append(resolved, path)
	}

	return resolved
}

// document returns the parsed project file, using the cache when the file is unchanged
func (r *Reader) document(path string) (*document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeIO, "failed to stat "+path, err)
	}

	if cached, ok := r.cache.Get(path); ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.doc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeIO, "failed to read "+path, err)
	}

	doc, err := parseDocument(data)
	if err != nil {
		return nil, common.WrapFixerError(common.ErrCodeProjectInvalid, "Invalid project file: "+path, err)
	}
	for i := range doc.packages {
		doc.packages[i].DeclaredIn = path
	}

	r.cache.Add(path, cachedDocument{modTime: info.ModTime(), size: info.Size(), doc: doc})
	return doc, nil
}

// parseDocument walks the XML token stream so that Import and ItemGroup elements are found at any
// depth (inside ImportGroup, Choose/When, Target and so on).
func parseDocument(data []byte) (*document, error) {
	decoder := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))

	doc := &document{}
	var stack []string
	var pending *PackageReference
	var versionText *strings.Builder
	sawRoot := false

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			name := t.Name.Local
			parent := ""
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			} else if sawRoot {
				return nil, fmt.Errorf("unexpected second root element <%s>", name)
			} else if name != "Project" {
				return nil, fmt.Errorf("root element is <%s>, expected <Project>", name)
			}
			sawRoot = true
			stack = append(stack, name)

			switch {
			case name == "Import":
				if project := attr(t, "Project"); project != "" {
					doc.imports = append(doc.imports, project)
				}
			case name == "PackageReference" && parent == "ItemGroup":
				if include := attr(t, "Include"); include != "" {
					pending = &PackageReference{Name: include, Version: attr(t, "Version")}
				}
			case name == "Version" && parent == "PackageReference" && pending != nil:
				versionText = &strings.Builder{}
			}

			if parent == "ItemGroup" {
				include, link := attr(t, "Include"), attr(t, "Link")
				if include != "" && link != "" {
					doc.links = append(doc.links, include)
				}
			}

		case xml.CharData:
			if versionText != nil {
				versionText.Write(t)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			stack = stack[:len(stack)-1]

			switch t.Name.Local {
			case "Version":
				if versionText != nil && pending != nil && pending.Version == "" {
					pending.Version = strings.TrimSpace(versionText.String())
				}
				versionText = nil
			case "PackageReference":
				if pending != nil {
					doc.packages = append(doc.packages, *pending)
					pending = nil
				}
			}
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("document has no root element")
	}
	return doc, nil
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

// resolvePath turns an MSBuild path (which may use backslashes) into a clean absolute path
func resolvePath(baseDir, raw string) string {
	path := filepath.FromSlash(strings.ReplaceAll(raw, `\`, "/"))
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return filepath.Clean(path)
}
