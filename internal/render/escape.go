package render

import (
	"strconv"
	"strings"
)

// Escape escapes s for inclusion in HTML. Text mode replaces the
// characters that would change element structure (&, <, >); attribute
// mode replaces the ones that would terminate a double-quoted attribute
// value (&, ").
func Escape(s string, attr bool) string {
	var idx int
	if attr {
		idx = strings.IndexAny(s, `&"`)
	} else {
		idx = strings.IndexAny(s, "&<>")
	}
	if idx < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)
	b.WriteString(s[:idx])
	for _, r := range s[idx:] {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			if !attr {
				b.WriteString("&lt;")
				continue
			}
			b.WriteRune(r)
		case '>':
			if !attr {
				b.WriteString("&gt;")
				continue
			}
			b.WriteRune(r)
		case '"':
			if attr {
				b.WriteString("&quot;")
				continue
			}
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stringify renders a scalar into its HTML text form. The bool reports
// whether the value was a renderable scalar.
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	default:
		return "", false
	}
}
