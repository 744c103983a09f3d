// internal/nodeid/parser.go
package nodeid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// addressRegex matches the canonical form, e.g. `3` or `3/7/2`.
var addressRegex = regexp.MustCompile(`^\d+(/\d+)*$`)

// Parse creates an Address by parsing its canonical string representation.
func Parse(rawID string) (Address, error) {
	if rawID == "" {
		return Address{}, fmt.Errorf("identifier cannot be empty")
	}
	if !addressRegex.MatchString(rawID) {
		return Address{}, fmt.Errorf("invalid address format: %q", rawID)
	}

	parts := strings.Split(rawID, "/")
	addr := Address{Path: make([]uint32, 0, len(parts))}
	for _, part := range parts {
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return Address{}, fmt.Errorf("invalid arena index %q: %w", part, err)
		}
		addr.Path = append(addr.Path, uint32(id))
	}
	return addr, nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests
// and constant addresses.
func MustParse(rawID string) Address {
	addr, err := Parse(rawID)
	if err != nil {
		panic(err)
	}
	return addr
}
