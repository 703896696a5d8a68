package trending

import (
	"fmt"
	"regexp"
	"strings"
)

var chainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

// NormalizeChain trims and lower-cases a chain identifier and validates it.
// Chain slugs are interpolated into the upstream URL, so only
// [a-z0-9-] is accepted.
func NormalizeChain(chain string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(chain))
	if !chainPattern.MatchString(c) {
		return "", fmt.Errorf("%w: %q", ErrInvalidChain, chain)
	}
	return c, nil
}
