package templatefmt

import (
	"encoding/json"
	"fmt"
	"text/template"
)

// FuncMap returns shared notification template helpers.
// Params: none.
// Returns: deterministic helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtMillis": FormatMillis,
		"json":      MarshalJSON,
	}
}

// ParseMessageTemplate parses one notification template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseMessageTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// FormatMillis renders an optional millisecond duration in compact human form.
// Params: template value expected as int64 or *int64 milliseconds.
// Returns: formatted duration string, "n/a" when the value is absent.
func FormatMillis(value any) string {
	var ms int64
	switch typed := value.(type) {
	case int64:
		ms = typed
	case *int64:
		if typed == nil {
			return "n/a"
		}
		ms = *typed
	case int:
		ms = int64(typed)
	default:
		return "n/a"
	}

	if ms < 0 {
		ms = -ms
	}
	seconds := float64(ms) / 1000
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
