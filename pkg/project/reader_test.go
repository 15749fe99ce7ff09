package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
	"github.com/stajs/SpecFlow.NetCore/pkg/framework"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestReader(t *testing.T) *Reader {
	t.Helper()
	r, err := NewReader(zerolog.Nop(), 8)
	require.NoError(t, err)
	return r
}

const sdkProject = `<Project Sdk="Microsoft.NET.Sdk">
  <PropertyGroup>
    <TargetFramework>net461</TargetFramework>
  </PropertyGroup>
  <ItemGroup>
    <PackageReference Include="SpecFlow" Version="2.1.0" />
    <PackageReference Include="xunit" Version="2.2.0" />
  </ItemGroup>
</Project>`

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	project := writeFile(t, filepath.Join(dir, "Tests.csproj"), sdkProject)
	writeFile(t, filepath.Join(dir, "Tests.csproj.fake"), sdkProject)
	writeFile(t, filepath.Join(dir, "nested", "Other.csproj"), sdkProject)

	path, err := Locate(dir)
	require.NoError(t, err)
	assert.Equal(t, project, path)
}

func TestLocate_NotFound(t *testing.T) {
	_, err := Locate(t.TempDir())
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeProjectNotFound))
}

func TestLocate_Ambiguous(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "A.csproj"), sdkProject)
	writeFile(t, filepath.Join(dir, "B.CSPROJ"), sdkProject)

	_, err := Locate(dir)
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeProjectAmbiguous))
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestReader_Read_Packages(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "Tests.csproj"), sdkProject)

	host, err := newTestReader(t).Read(path)
	require.NoError(t, err)

	assert.Equal(t, path, host.Path)
	assert.Equal(t, dir, host.Dir())
	require.Len(t, host.Packages, 2)

	pkg, ok := host.Package("specflow")
	require.True(t, ok)
	assert.Equal(t, "2.1.0", pkg.Version)
	assert.Equal(t, path, pkg.DeclaredIn)

	assert.Equal(t, []framework.Identity{framework.XUnit}, host.TestFrameworks())
}

func TestReader_Read_VersionElementAndNamespace(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "Tests.csproj"), "\xEF\xBB\xBF"+`<?xml version="1.0" encoding="utf-8"?>
<Project ToolsVersion="14.0" xmlns="http://schemas.microsoft.com/developer/msbuild/2003">
  <ItemGroup>
    <PackageReference Include="SpecFlow">
      <Version>2.2.1</Version>
    </PackageReference>
    <PackageReference Include="NUnit" Version="3.7.1" />
  </ItemGroup>
</Project>`)

	host, err := newTestReader(t).Read(path)
	require.NoError(t, err)

	pkg, ok := host.Package("SpecFlow")
	require.True(t, ok)
	assert.Equal(t, "2.2.1", pkg.Version)
	assert.Equal(t, []framework.Identity{framework.NUnit}, host.TestFrameworks())
}

func TestReader_Read_FollowsImports(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build", "shared.props"), `<Project>
  <Import Project="..\versions.props" />
  <ItemGroup>
    <PackageReference Include="MSTest.TestFramework" Version="1.1.18" />
  </ItemGroup>
</Project>`)
	writeFile(t, filepath.Join(dir, "versions.props"), `<Project>
  <ImportGroup>
    <Import Project="build/shared.props" />
  </ImportGroup>
  <ItemGroup>
    <PackageReference Include="SpecFlow" Version="2.1.0" />
  </ItemGroup>
</Project>`)
	path := writeFile(t, filepath.Join(dir, "Tests.csproj"), `<Project Sdk="Microsoft.NET.Sdk">
  <Import Project="build/shared.props" />
  <Import Project="$(MSBuildThisFileDirectory)missing.props" />
  <Import Project="does-not-exist.props" />
</Project>`)

	host, err := newTestReader(t).Read(path)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "build", "shared.props"),
		filepath.Join(dir, "versions.props"),
	}, host.Imports)

	pkg, ok := host.Package("specflow")
	require.True(t, ok)
	assert.Equal(t, "2.1.0", pkg.Version)
	assert.Equal(t, filepath.Join(dir, "versions.props"), pkg.DeclaredIn)
	assert.Equal(t, []framework.Identity{framework.MSTest}, host.TestFrameworks())
}

func TestReader_Read_HostPackageWinsOverImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "shared.props"), `<Project>
  <ItemGroup><PackageReference Include="SpecFlow" Version="1.9.0" /></ItemGroup>
</Project>`)
	path := writeFile(t, filepath.Join(dir, "Tests.csproj"), `<Project>
  <Import Project="shared.props" />
  <ItemGroup><PackageReference Include="SpecFlow" Version="2.1.0" /></ItemGroup>
</Project>`)

	host, err := newTestReader(t).Read(path)
	require.NoError(t, err)

	pkg, ok := host.Package("SpecFlow")
	require.True(t, ok)
	assert.Equal(t, "2.1.0", pkg.Version)
}

func TestReader_Read_VersionFromImportWhenHostOmitsIt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "versions.props"), `<Project>
  <ItemGroup><PackageReference Include="SpecFlow" Version="2.2.0" /></ItemGroup>
</Project>`)
	path := writeFile(t, filepath.Join(dir, "Tests.csproj"), `<Project>
  <Import Project="versions.props" />
  <ItemGroup><PackageReference Include="SpecFlow" /></ItemGroup>
</Project>`)

	host, err := newTestReader(t).Read(path)
	require.NoError(t, err)

	pkg, ok := host.Package("specflow")
	require.True(t, ok)
	assert.Equal(t, "2.2.0", pkg.Version)
	assert.Equal(t, filepath.Join(dir, "versions.props"), pkg.DeclaredIn)
}

func TestHostDescriptor_Package_WithoutVersion(t *testing.T) {
	host := &HostDescriptor{Packages: []PackageReference{{Name: "SpecFlow"}}}
	pkg, ok := host.Package("specflow")
	require.True(t, ok)
	assert.Empty(t, pkg.Version)

	_, ok = host.Package("nunit")
	assert.False(t, ok)
}

func TestReader_Read_LinkedFeatures(t *testing.T) {
	root := t.TempDir()
	shared := writeFile(t, filepath.Join(root, "Shared", "Login.feature"), "Feature: Login")
	writeFile(t, filepath.Join(root, "Shared", "Readme.md"), "docs")
	dir := filepath.Join(root, "Tests")
	path := writeFile(t, filepath.Join(dir, "Tests.csproj"), `<Project>
  <ItemGroup>
    <None Include="..\Shared\Login.feature" Link="Features\Login.feature" />
    <None Include="..\Shared\Readme.md" Link="Readme.md" />
    <None Include="..\Shared\Gone.feature" Link="Gone.feature" />
    <None Include="Local.feature" />
  </ItemGroup>
</Project>`)

	host, err := newTestReader(t).Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{shared}, host.LinkedSpecs)
}

func TestReader_Read_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not_xml", content: "this is not xml"},
		{name: "wrong_root", content: "<Solution></Solution>"},
		{name: "truncated", content: "<Project><ItemGroup>"},
		{name: "empty", content: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, filepath.Join(t.TempDir(), "Tests.csproj"), tt.content)
			_, err := newTestReader(t).Read(path)
			require.Error(t, err)
			assert.True(t, common.IsCode(err, common.ErrCodeProjectInvalid))
		})
	}
}

func TestReader_CacheInvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "Tests.csproj"), sdkProject)
	reader := newTestReader(t)

	host, err := reader.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []framework.Identity{framework.XUnit}, host.TestFrameworks())

	writeFile(t, path, `<Project><ItemGroup><PackageReference Include="NUnit" Version="3.0.0" /></ItemGroup></Project>`)
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	host, err = reader.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []framework.Identity{framework.NUnit}, host.TestFrameworks())
}

func TestReader_Load(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Tests.csproj"), sdkProject)

	host, err := newTestReader(t).Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Tests.csproj"), host.Path)
}

func TestDiscoverSpecifications(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Tests")
	a := writeFile(t, filepath.Join(dir, "Features", "A.feature"), "Feature: A")
	b := writeFile(t, filepath.Join(dir, "B.FEATURE"), "Feature: B")
	writeFile(t, filepath.Join(dir, "B.FEATURE.cs"), "// glue")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	linked := writeFile(t, filepath.Join(root, "Shared", "C.feature"), "Feature: C")

	host := &HostDescriptor{
		Path:        filepath.Join(dir, "Tests.csproj"),
		LinkedSpecs: []string{linked, a},
	}

	specs, err := DiscoverSpecifications(dir, host)
	require.NoError(t, err)
	require.Len(t, specs, 3)

	paths := []string{specs[0].Path, specs[1].Path, specs[2].Path}
	assert.ElementsMatch(t, []string{a, b, linked}, paths)

	for _, spec := range specs {
		assert.Equal(t, spec.Path == linked, spec.Linked)
		assert.Equal(t, spec.Path == b, spec.HasGlue())
		assert.Equal(t, spec.Path+".cs", spec.GluePath())
	}
}
