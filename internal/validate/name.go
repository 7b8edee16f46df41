package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxNodeNameLength bounds node names as they are advertised over gossip and
// telemetry.
const MaxNodeNameLength = 64

var validNameRegex = regexp.MustCompile(`^[a-z0-9_-]+$`)

// NodeNameFormat validates node names: [a-z0-9_-], at most 64 characters, not
// starting or ending with a separator.
func NodeNameFormat(name string) error {
	if name == "" {
		return fmt.Errorf("node name cannot be empty")
	}

	if len(name) > MaxNodeNameLength {
		return fmt.Errorf("node name '%s' is longer than %d characters", name, MaxNodeNameLength)
	}

	if !validNameRegex.MatchString(name) {
		return fmt.Errorf("node name '%s' must contain only lowercase letters [a-z], numbers [0-9], hyphens (-), and underscores (_)", name)
	}

	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, "_") ||
		strings.HasSuffix(name, "-") || strings.HasSuffix(name, "_") {
		return fmt.Errorf("node name '%s' cannot start or end with hyphen (-) or underscore (_)", name)
	}

	return nil
}
