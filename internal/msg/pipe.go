package msg

import (
	"strconv"
	"strings"
)

// Substitute fills `$n` placeholders in a stored string message with the
// incoming value. A scalar input replaces `$1`; a list input replaces `$n`
// with its n-th element. Any other combination returns stored unchanged.
func Substitute(stored, incoming Message) Message {
	template, ok := stored.(string)
	if !ok || !strings.Contains(template, "$") {
		return stored
	}
	switch v := incoming.(type) {
	case []Message:
		// Highest index first so "$1" never eats the prefix of "$10".
		out := template
		for i := len(v) - 1; i >= 0; i-- {
			if v[i] == nil {
				continue
			}
			out = strings.ReplaceAll(out, "$"+strconv.Itoa(i+1), Format(v[i]))
		}
		return out
	case float64, string:
		if !strings.Contains(template, "$1") {
			return stored
		}
		return strings.ReplaceAll(template, "$1", Format(v))
	}
	return stored
}
