// ABOUTME: Master and inject prompt rendering with {{var}} substitution
// ABOUTME: Defaults are embedded; a prompts dir on disk overrides them

package registry

import (
	"embed"
	"os"
	"path/filepath"
	"strings"
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

// PromptVars are the substitution variables available to prompt templates.
type PromptVars struct {
	AgentName      string
	ProjectName    string
	ProjectChannel string
}

// renderPrompt loads a named template and substitutes {{agent_name}},
// {{project_name}}, and {{project_channel}}. A file in promptsDir overrides
// the embedded default of the same name.
func renderPrompt(promptsDir, name string, vars PromptVars) string {
	var raw []byte
	if promptsDir != "" {
		if b, err := os.ReadFile(filepath.Join(promptsDir, name)); err == nil {
			raw = b
		}
	}
	if raw == nil {
		b, err := defaultPrompts.ReadFile("prompts/" + name)
		if err != nil {
			return ""
		}
		raw = b
	}

	s := string(raw)
	s = strings.ReplaceAll(s, "{{agent_name}}", vars.AgentName)
	s = strings.ReplaceAll(s, "{{project_name}}", vars.ProjectName)
	s = strings.ReplaceAll(s, "{{project_channel}}", vars.ProjectChannel)
	return s
}
