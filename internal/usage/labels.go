package usage

var labels = map[ProviderID]string{
	"codex":       "Codex",
	"claude":      "Claude",
	"kiro":        "Kiro",
	"gemini":      "Gemini",
	"copilot":     "Copilot",
	"zai":         "z.ai",
	"cursor":      "Cursor",
	"factory":     "Factory",
	"kimi":        "Kimi",
	"kimik2":      "Kimi K2",
	"vertexai":    "Vertex AI",
	"antigravity": "Antigravity",
	"opencode":    "OpenCode",
	"minimax":     "MiniMax",
}

// Label returns the display name for a provider id.
func Label(id ProviderID) string {
	if l, ok := labels[id]; ok {
		return l
	}
	return string(id)
}
