package identity

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/jedisos/internal/packages"
)

// PromptFilename is the snippet file inside a prompt package.
const PromptFilename = "PROMPT.md"

// Prompts returns the text of every installed prompt package, sorted by
// package name (the manager scans sorted). These snippets are appended to
// the persona so operators can extend the system prompt by dropping a
// package in, without touching the identity.
func Prompts(manager *packages.Manager) []string {
	if manager == nil {
		return nil
	}
	var out []string
	for _, info := range manager.Scan() {
		if info.Manifest.Type != packages.TypePrompt {
			continue
		}
		data, err := os.ReadFile(filepath.Join(info.Dir, PromptFilename))
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// ComposedPersona joins the persona with the installed prompt snippets.
func (l *Loader) ComposedPersona() string {
	parts := []string{l.Persona()}
	parts = append(parts, Prompts(l.manager)...)
	return strings.Join(parts, "\n\n")
}
