package forge

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/nextlevelbuilder/jedisos/internal/packages"
)

// ToolDesign is the structured design the model returns for a new skill.
type ToolDesign struct {
	ToolName              string        `json:"tool_name"`
	Description           string        `json:"description"`
	Parameters            []DesignParam `json:"parameters"`
	ImplementationOutline string        `json:"implementation_outline"`
	Implementation        string        `json:"implementation"`
	EnvRequired           []string      `json:"env_required"`
}

// DesignParam is one parameter in the design.
type DesignParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// codeTemplate renders the skill artifact. The implementation body comes from
// the model; the scaffold (imports, decorator, stdin/stdout protocol shim) is
// ours so the runner contract always holds.
var codeTemplate = template.Must(template.New("skill").Parse(`"""{{.Design.Description}}"""
import json
import sys
from typing import Any

from jedisos_tool import tool


@tool
def {{.Design.ToolName}}({{.ParamList}}) -> str:
{{.Body}}


if __name__ == "__main__":
    payload = json.load(sys.stdin)
    result = {{.Design.ToolName}}(**payload.get("arguments", {}))
    sys.stdout.write(result)
`))

// RenderCode produces the artifact source from a design.
func RenderCode(design *ToolDesign) (string, error) {
	body := normalizeBody(design.Implementation)
	if body == "" {
		return "", fmt.Errorf("design has no implementation")
	}

	params := make([]string, 0, len(design.Parameters))
	for _, p := range design.Parameters {
		decl := p.Name + ": " + pyType(p.Type)
		if !p.Required {
			decl += " = " + pyDefault(p)
		}
		params = append(params, decl)
	}

	var buf bytes.Buffer
	err := codeTemplate.Execute(&buf, map[string]any{
		"Design":    design,
		"ParamList": strings.Join(params, ", "),
		"Body":      body,
	})
	if err != nil {
		return "", fmt.Errorf("render code: %w", err)
	}
	return buf.String(), nil
}

// Manifest builds the package manifest for a generated skill.
func (d *ToolDesign) Manifest() *packages.Manifest {
	properties := make(map[string]any, len(d.Parameters))
	var required []any
	for _, p := range d.Parameters {
		properties[p.Name] = map[string]any{
			"type":        jsonType(p.Type),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}

	return &packages.Manifest{
		Name:        d.ToolName,
		Version:     "0.1.0",
		Description: d.Description,
		Type:        packages.TypeSkill,
		License:     "MIT",
		Author:      "jedisos-forge",
		Tags:        []string{"generated"},
		Entrypoint:  "skill.py",
		Env:         d.EnvRequired,
		Tools: []packages.ToolDecl{{
			Name:        d.ToolName,
			Description: d.Description,
			Parameters:  schema,
		}},
	}
}

// normalizeBody indents the implementation to live inside the def block.
func normalizeBody(impl string) string {
	impl = strings.ReplaceAll(impl, "\t", "    ")
	lines := strings.Split(strings.TrimRight(impl, "\n"), "\n")

	// Find the minimal existing indent of non-blank lines.
	minIndent := -1
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if minIndent < 0 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent < 0 {
		return ""
	}

	var out []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			out = append(out, "")
			continue
		}
		out = append(out, "    "+line[minIndent:])
	}
	return strings.Join(out, "\n")
}

func pyType(t string) string {
	switch strings.ToLower(t) {
	case "string", "str":
		return "str"
	case "number", "float":
		return "float"
	case "integer", "int":
		return "int"
	case "boolean", "bool":
		return "bool"
	default:
		return "Any"
	}
}

func pyDefault(p DesignParam) string {
	switch v := p.Default.(type) {
	case nil:
		return "None"
	case string:
		return fmt.Sprintf("%q", v)
	case bool:
		if v {
			return "True"
		}
		return "False"
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return "None"
	}
}

func jsonType(t string) string {
	switch strings.ToLower(t) {
	case "str", "string":
		return "string"
	case "float", "number":
		return "number"
	case "int", "integer":
		return "integer"
	case "bool", "boolean":
		return "boolean"
	default:
		return "string"
	}
}
