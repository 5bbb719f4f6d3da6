package watcher

import "encoding/json"

// argFormatters maps tool names to one-line argument summaries for display.
// Unknown tools fall back to a truncated JSON dump, so a new tool renders
// something useful without a table entry.
var argFormatters = map[string]func(args map[string]any) string{
	"exec": func(args map[string]any) string {
		if command, _ := args["command"].(string); command != "" {
			return "$ " + command
		}
		return ""
	},
	"read": func(args map[string]any) string {
		if file, _ := args["file"].(string); file != "" {
			return "📄 " + file
		}
		return ""
	},
	"write": func(args map[string]any) string {
		if file, _ := args["file"].(string); file != "" {
			return "📝 " + file
		}
		return ""
	},
	"process": func(args map[string]any) string {
		if action, _ := args["action"].(string); action != "" {
			return "⚡ " + action
		}
		return ""
	},
}

const maxSummaryLen = 100

// SummarizeArgs renders a short human-readable summary of a tool call's
// arguments using the per-tool formatting table.
func SummarizeArgs(tool string, args map[string]any) string {
	if format, ok := argFormatters[tool]; ok {
		return format(args)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return truncate(string(raw), maxSummaryLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
