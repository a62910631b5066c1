package engine

import (
	"embed"
	"strings"
)

//go:embed templates/persona.md
var personaFS embed.FS

// PersonaSource supplies a custom system persona. The workspace
// implements it by reading SOUL.md.
type PersonaSource interface {
	Persona() string
}

// defaultPersona returns the built-in persona template.
func defaultPersona() string {
	content, err := personaFS.ReadFile("templates/persona.md")
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(content))
}

// resolvePersona prefers the workspace persona over the embedded
// default.
func (r *Runner) resolvePersona() string {
	if source, ok := r.memory.(PersonaSource); ok {
		if persona := strings.TrimSpace(source.Persona()); persona != "" {
			return persona
		}
	}

	return defaultPersona()
}
