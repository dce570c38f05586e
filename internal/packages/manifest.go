// Package packages manages the on-disk artifact store: typed directories of
// installable packages (skills, mcp-servers, prompts, workflows, identities,
// bundles), each described by a jedisos-package.yaml manifest.
package packages

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFilename is the required metadata file in every package directory.
const ManifestFilename = "jedisos-package.yaml"

// Type is the package kind; it decides the parent directory.
type Type string

const (
	TypeSkill     Type = "skill"
	TypeMCPServer Type = "mcp-server"
	TypePrompt    Type = "prompt"
	TypeWorkflow  Type = "workflow"
	TypeIdentity  Type = "identity"
	TypeBundle    Type = "bundle"
)

// typeDirs maps package type → subdirectory under the root.
var typeDirs = map[Type]string{
	TypeSkill:     "skills",
	TypeMCPServer: "mcp-servers",
	TypePrompt:    "prompts",
	TypeWorkflow:  "workflows",
	TypeIdentity:  "identities",
	TypeBundle:    "bundles",
}

// TypeDirs returns the six typed subdirectory names.
func TypeDirs() []string {
	return []string{"skills", "mcp-servers", "prompts", "workflows", "identities", "bundles"}
}

// Dir returns the subdirectory for a type, or "" if the type is unknown.
func (t Type) Dir() string { return typeDirs[t] }

// allowedLicenses is the closed set accepted at validation time.
var allowedLicenses = map[string]bool{
	"MIT":          true,
	"Apache-2.0":   true,
	"BSD-3-Clause": true,
}

// ToolDecl declares one tool exported by a skill package.
type ToolDecl struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

// Manifest is the parsed jedisos-package.yaml.
type Manifest struct {
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version"`
	Description  string            `yaml:"description"`
	Type         Type              `yaml:"type"`
	License      string            `yaml:"license"`
	Author       string            `yaml:"author"`
	Tags         []string          `yaml:"tags,omitempty"`
	Dependencies map[string]string `yaml:"dependencies,omitempty"`

	// Skill-only fields.
	Entrypoint string         `yaml:"entrypoint,omitempty"` // code artifact filename
	Tools      []ToolDecl     `yaml:"tools,omitempty"`
	Env        []string       `yaml:"env,omitempty"` // required environment variables

	// MCP-server-only fields.
	Endpoint string `yaml:"endpoint,omitempty"` // base URL of the tool server
}

var (
	nameRe   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	semverRe = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)
)

// ReadManifest loads and parses the manifest from a package directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Write renders the manifest into dir.
func (m *Manifest) Write(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFilename), data, 0o644)
}

// CheckFinding is one validation finding.
type CheckFinding struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// Validate checks manifest fields; dir, when non-empty, is used to verify the
// skill entrypoint exists. The returned findings are empty when valid.
func (m *Manifest) Validate(dir string) []CheckFinding {
	var findings []CheckFinding
	add := func(check, detail string) {
		findings = append(findings, CheckFinding{Check: check, Detail: detail})
	}

	if m.Name == "" {
		add("name", "name is required")
	} else if !nameRe.MatchString(m.Name) {
		add("name", fmt.Sprintf("invalid name %q: lowercase letters, digits, - and _ only", m.Name))
	}
	if m.Version == "" {
		add("version", "version is required")
	} else if !semverRe.MatchString(m.Version) {
		add("version", fmt.Sprintf("version %q is not semver", m.Version))
	}
	if m.Description == "" {
		add("description", "description is required")
	}
	if m.Type == "" {
		add("type", "type is required")
	} else if m.Type.Dir() == "" {
		add("type", fmt.Sprintf("unknown package type %q", m.Type))
	}
	if m.License == "" {
		add("license", "license is required")
	} else if !allowedLicenses[m.License] {
		add("license", fmt.Sprintf("license %q not in allowed set (MIT, Apache-2.0, BSD-3-Clause)", m.License))
	}
	if m.Author == "" {
		add("author", "author is required")
	}

	switch m.Type {
	case TypeSkill:
		if m.Entrypoint == "" {
			add("entrypoint", "skill packages must declare an entrypoint")
		} else {
			if strings.Contains(m.Entrypoint, "/") || strings.Contains(m.Entrypoint, "..") {
				add("entrypoint", "entrypoint must be a plain filename inside the package")
			} else if dir != "" {
				if _, err := os.Stat(filepath.Join(dir, m.Entrypoint)); err != nil {
					add("entrypoint", fmt.Sprintf("entrypoint %q not found in package", m.Entrypoint))
				}
			}
		}
		if len(m.Tools) == 0 {
			add("tools", "skill packages must declare at least one tool")
		}
		for _, tool := range m.Tools {
			if tool.Name == "" || !nameRe.MatchString(tool.Name) {
				add("tools", fmt.Sprintf("invalid tool name %q", tool.Name))
			}
		}
	case TypeMCPServer:
		if m.Endpoint == "" {
			add("endpoint", "mcp-server packages must declare an endpoint")
		}
	}

	return findings
}

// ValidationError wraps the per-check report for a failed install.
type ValidationError struct {
	Name     string
	Findings []CheckFinding
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Findings))
	for i, f := range e.Findings {
		parts[i] = f.Check + ": " + f.Detail
	}
	return fmt.Sprintf("package %q failed validation: %s", e.Name, strings.Join(parts, "; "))
}
