// Package identity loads the textual agent persona prepended to every model
// prompt. Personas live in identity packages (an IDENTITY.md next to the
// manifest) or a plain file; absence falls back to a built-in default.
package identity

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/jedisos/internal/packages"
)

// DefaultPersona is used when no identity package or file is configured.
const DefaultPersona = `You are Jedis, a personal AI assistant.
You are concise, direct, and helpful. You have access to tools and a
long-term memory of previous conversations with this user; use both when
they genuinely help. When you lack a tool for a task the user needs
repeatedly, you may request one with the create_tool tool.`

// PersonaFilename is the persona text file inside an identity package.
const PersonaFilename = "IDENTITY.md"

// Loader resolves the active persona text.
type Loader struct {
	manager *packages.Manager
	name    string // identity package name, "" = first installed
	file    string // explicit file path override
}

// NewLoader creates a loader over the package manager. file, when non-empty,
// bypasses packages entirely.
func NewLoader(manager *packages.Manager, name, file string) *Loader {
	return &Loader{manager: manager, name: name, file: file}
}

// Persona returns the persona text. Resolution order: explicit file, named
// identity package, built-in default. The first installed identity package is
// used only when no name is configured; a configured name that matches no
// package falls back to the built-in default.
func (l *Loader) Persona() string {
	if l.file != "" {
		if data, err := os.ReadFile(l.file); err == nil {
			return strings.TrimSpace(string(data))
		}
		slog.Warn("identity: persona file unreadable, falling back", "file", l.file)
	}

	if l.manager != nil {
		var fallback string
		for _, info := range l.manager.Scan() {
			if info.Manifest.Type != packages.TypeIdentity {
				continue
			}
			data, err := os.ReadFile(filepath.Join(info.Dir, PersonaFilename))
			if err != nil {
				continue
			}
			text := strings.TrimSpace(string(data))
			if info.Manifest.Name == l.name {
				return text
			}
			if fallback == "" {
				fallback = text
			}
		}
		if l.name == "" && fallback != "" {
			return fallback
		}
		if l.name != "" {
			slog.Warn("identity: named identity not found, using default", "name", l.name)
		}
	}

	return DefaultPersona
}
