package glue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stajs/SpecFlow.NetCore/pkg/framework"
)

const xunitGlue = "namespace Sample\r\n{\r\n    public partial class LoginFeature : Xunit.IUseFixture<LoginFeature.FixtureData>, System.IDisposable\r\n    {\r\n        [Xunit.Extensions.TheoryAttribute()]\r\n        public void Login() {}\r\n    }\r\n}\r\n"

const nunitGlue = `    [NUnit.Framework.TestFixtureAttribute()]
    public partial class LoginFeature
    {
        [NUnit.Framework.TestFixtureSetUpAttribute()]
        public virtual void FeatureSetup() {}

        [NUnit.Framework.TestFixtureTearDownAttribute()]
        public virtual void FeatureTearDown() {}
    }
`

const mstestGlue = `        [Microsoft.VisualStudio.TestTools.UnitTesting.TestMethodAttribute()]
        [Microsoft.VisualStudio.TestTools.UnitTesting.DescriptionAttribute("Login")]
        [Microsoft.VisualStudio.TestTools.UnitTesting.TestPropertyAttribute("FeatureTitle", "Login")]
        public virtual void Login() {}`

func TestFix_XUnit(t *testing.T) {
	fixed := Fix(framework.XUnit, xunitGlue)

	assert.Contains(t, fixed, " : Xunit.IClassFixture<LoginFeature.FixtureData>")
	assert.Contains(t, fixed, "[Xunit.TheoryAttribute()]")
	assert.NotContains(t, fixed, "IUseFixture")

	expected := "namespace Sample\r\n{\r\n    public partial class LoginFeature : Xunit.IClassFixture<LoginFeature.FixtureData>, System.IDisposable\r\n    {\r\n        [Xunit.TheoryAttribute()]\r\n        public void Login() {}\r\n    }\r\n}\r\n"
	assert.Equal(t, expected, fixed)
}

func TestFix_XUnitOnlyFixtureChanges(t *testing.T) {
	in := "class Foo : Xunit.IUseFixture<Foo>\n// other text stays\n"
	assert.Equal(t, "class Foo : Xunit.IClassFixture<Foo>\n// other text stays\n", Fix(framework.XUnit, in))
}

func TestFix_NUnit(t *testing.T) {
	fixed := Fix(framework.NUnit, nunitGlue)

	assert.Contains(t, fixed, "[NUnit.Framework.OneTimeSetUp()]")
	assert.Contains(t, fixed, "[NUnit.Framework.OneTimeTearDown()]")
	assert.Contains(t, fixed, "[NUnit.Framework.TestFixtureAttribute()]")
	assert.NotContains(t, fixed, "TestFixtureSetUpAttribute")
}

func TestFix_MSTest(t *testing.T) {
	fixed := Fix(framework.MSTest, mstestGlue)

	assert.NotContains(t, fixed, "DescriptionAttribute")
	assert.Equal(t, `        [Microsoft.VisualStudio.TestTools.UnitTesting.TestMethodAttribute()]
        [Microsoft.VisualStudio.TestTools.UnitTesting.TestPropertyAttribute("FeatureTitle", "Login")]
        public virtual void Login() {}`, fixed)
}

func TestFix_OnlyAppliesOwnFramework(t *testing.T) {
	assert.Equal(t, nunitGlue, Fix(framework.XUnit, nunitGlue))
	assert.Equal(t, xunitGlue, Fix(framework.NUnit, xunitGlue))
	assert.Equal(t, xunitGlue, Fix(framework.MSTest, xunitGlue))
}

func TestFix_Idempotent(t *testing.T) {
	inputs := map[framework.Identity]string{
		framework.XUnit:  xunitGlue,
		framework.NUnit:  nunitGlue,
		framework.MSTest: mstestGlue,
	}
	for id, in := range inputs {
		t.Run(string(id), func(t *testing.T) {
			once := Fix(id, in)
			assert.Equal(t, once, Fix(id, once))
		})
	}
}

func TestFixAll(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "Features", "Login.feature.cs")
	clean := filepath.Join(dir, "Clean.feature.cs")
	other := filepath.Join(dir, "Steps.cs")

	require.NoError(t, os.MkdirAll(filepath.Dir(nested), 0755))
	require.NoError(t, os.WriteFile(nested, []byte(xunitGlue), 0640))
	require.NoError(t, os.WriteFile(clean, []byte("class Clean {}\n"), 0644))
	require.NoError(t, os.WriteFile(other, []byte("class Steps : Xunit.IUseFixture<X> {}"), 0644))

	fixer := NewFixer(zerolog.Nop())
	report, err := fixer.FixAll(dir, framework.XUnit)
	require.NoError(t, err)

	assert.Equal(t, []string{clean, nested}, report.Scanned)
	assert.Equal(t, []string{nested}, report.Changed)

	data, err := os.ReadFile(nested)
	require.NoError(t, err)
	assert.Equal(t, Fix(framework.XUnit, xunitGlue), string(data))

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	data, err = os.ReadFile(other)
	require.NoError(t, err)
	assert.Contains(t, string(data), "IUseFixture")

	report, err = fixer.FixAll(dir, framework.XUnit)
	require.NoError(t, err)
	assert.Empty(t, report.Changed)
}

func TestFind_CaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Upper.FEATURE.CS")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	files, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)
}
