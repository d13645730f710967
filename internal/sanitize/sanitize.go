// Package sanitize cleans user-supplied text before it reaches the store.
package sanitize

import (
	"encoding/json"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strict = bluemonday.StrictPolicy()
	ugc    = bluemonday.UGCPolicy()
)

// Text strips all markup and collapses whitespace, like a plain text form
// field.
func Text(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(strict.Sanitize(s))), " ")
}

// HTML keeps safe user-generated markup and removes everything else.
func HTML(s string) string {
	return ugc.Sanitize(s)
}

// Value sanitises a decoded JSON value. Strings are stripped to text,
// numbers and booleans are kept, arrays and objects are sanitised
// recursively and null becomes an empty string.
func Value(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return Text(t)
	case bool, float64, int, int64, json.Number:
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Value(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[Text(k)] = Value(e)
		}
		return out
	default:
		return ""
	}
}
