package msg

import (
	"strconv"
	"strings"
)

// Message is a value delivered to an inlet. See the package documentation for
// the set of dynamic types it may hold.
type Message = any

// Bang is the trigger token.
const Bang = "bang"

// IsBang reports whether m is the bang token.
func IsBang(m Message) bool {
	s, ok := m.(string)
	return ok && s == Bang
}

// Defined reports whether m carries a value.
func Defined(m Message) bool {
	return m != nil
}

// Float extracts a number from m. Numeric strings are accepted.
func Float(m Message) (float64, bool) {
	switch v := m.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Parse turns literal text into a message. Numbers become float64, a
// bracketed whitespace-separated sequence becomes a list, and anything else
// stays a string.
func Parse(text string) Message {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
		inner := strings.Trim(text[1:len(text)-1], " ,")
		if inner == "" {
			return []Message{}
		}
		fields := strings.FieldsFunc(inner, func(r rune) bool { return r == ',' || r == ' ' })
		out := make([]Message, 0, len(fields))
		for _, f := range fields {
			out = append(out, Parse(f))
		}
		return out
	}
	return text
}

// Format renders m the way a literal node displays it.
func Format(m Message) string {
	switch v := m.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return v
	case []Message:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = Format(e)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case *SharedBuffer:
		return v.String()
	}
	return ""
}

// Plain strips values that cannot cross a structured copy. Shared buffers and
// unknown types become nil; lists are copied element by element.
func Plain(m Message) Message {
	switch v := m.(type) {
	case nil, float64, string, bool:
		return v
	case []Message:
		out := make([]Message, len(v))
		for i, e := range v {
			out[i] = Plain(e)
		}
		return out
	}
	if f, ok := Float(m); ok {
		return f
	}
	return nil
}
