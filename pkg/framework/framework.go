// Package framework defines the closed set of unit test frameworks SpecFlow can target.
package framework

import (
	"fmt"
	"strings"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
)

// Identity identifies one of the supported test frameworks
type Identity string

const (
	XUnit  Identity = "xunit"
	NUnit  Identity = "nunit"
	MSTest Identity = "mstest"
)

// Default is used when nothing declares a framework
const Default = XUnit

// All returns every supported identity in a stable order
func All() []Identity {
	return []Identity{XUnit, NUnit, MSTest}
}

// IsValid returns true if the identity is one of the supported frameworks
func (id Identity) IsValid() bool {
	switch id {
	case XUnit, NUnit, MSTest:
		return true
	default:
		return false
	}
}

func (id Identity) String() string {
	return string(id)
}

// Parse converts a user or config supplied name into an Identity, ignoring case
func Parse(name string) (Identity, error) {
	id := Identity(strings.ToLower(strings.TrimSpace(name)))
	if !id.IsValid() {
		names := make([]string, 0, len(All()))
		for _, known := range All() {
			names = append(names, known.String())
		}
		return "", common.NewFixerError(
			common.ErrCodeFrameworkUnknown,
			fmt.Sprintf("unknown test framework %q (expected one of: %s)", name, strings.Join(names, ", ")),
			"",
		)
	}
	return id, nil
}

// packageIDs maps lower-cased NuGet package ids to the framework they declare.
var packageIDs = map[string]Identity{
	"xunit":                XUnit,
	"xunit.core":           XUnit,
	"nunit":                NUnit,
	"mstest":               MSTest,
	"mstest.testframework": MSTest,
}

// FromPackage returns the framework declared by a package reference, if any
func FromPackage(packageID string) (Identity, bool) {
	id, ok := packageIDs[strings.ToLower(strings.TrimSpace(packageID))]
	return id, ok
}
