package plugin

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckRequires reports whether coreVersion satisfies a manifest's requires
// constraint. An empty constraint is always satisfied. err is non-nil only
// when the constraint or the version cannot be parsed; callers log it and
// proceed.
func CheckRequires(constraint, coreVersion string) (bool, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return true, nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return true, fmt.Errorf("invalid version constraint %s: %w", constraint, err)
	}

	v, err := semver.NewVersion(coreVersion)
	if err != nil {
		return true, fmt.Errorf("invalid core version %s: %w", coreVersion, err)
	}

	return c.Check(v), nil
}
