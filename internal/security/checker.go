// Package security statically analyzes skill code before it is admitted to
// the registry. Skill artifacts are Python scripts executed out-of-process by
// the skill runner, so the checks target that surface: dangerous calls,
// unvetted imports, and missing tool declarations.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity of a finding.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Check names, one per analysis pass.
const (
	CheckSyntax    = "syntax"
	CheckForbidden = "forbidden_patterns"
	CheckImports   = "import_allowlist"
	CheckTypeHints = "type_hints"
	CheckDecorator = "tool_decorator"
)

// Finding is one issue discovered by a check.
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Line     int      `json:"line,omitempty"`
	Detail   string   `json:"detail"`
}

// Report is the full result of checking one code artifact.
type Report struct {
	Package  string    `json:"package"`
	Findings []Finding `json:"findings"`
	OK       bool      `json:"ok"` // true iff no fatal finding
}

// Summary renders the findings for feeding back to the code generator.
func (r *Report) Summary() string {
	if len(r.Findings) == 0 {
		return "all checks passed"
	}
	var sb strings.Builder
	for _, f := range r.Findings {
		if f.Line > 0 {
			fmt.Fprintf(&sb, "[%s] %s (line %d): %s\n", f.Severity, f.Check, f.Line, f.Detail)
		} else {
			fmt.Fprintf(&sb, "[%s] %s: %s\n", f.Severity, f.Check, f.Detail)
		}
	}
	return strings.TrimSpace(sb.String())
}

// forbiddenPatterns are substrings/regexes whose presence on any non-comment
// line of the source is fatal: process spawning, dynamic evaluation, filesystem escapes,
// raw sockets, C bindings, and internal-network access.
var forbiddenPatterns = []struct {
	re     *regexp.Regexp
	detail string
}{
	{regexp.MustCompile(`\bos\.system\s*\(`), "os.system call"},
	{regexp.MustCompile(`\bsubprocess\.`), "subprocess usage"},
	{regexp.MustCompile(`\beval\s*\(`), "eval call"},
	{regexp.MustCompile(`\bexec\s*\(`), "exec call"},
	{regexp.MustCompile(`__import__\s*\(`), "dynamic __import__"},
	{regexp.MustCompile(`/etc/`), "system path access"},
	{regexp.MustCompile(`\bshutil\.rmtree\b`), "recursive filesystem delete"},
	{regexp.MustCompile(`\bsocket\.`), "raw socket usage"},
	{regexp.MustCompile(`\bctypes\.`), "C bindings"},
	{regexp.MustCompile(`localhost|127\.0\.0\.1|0\.0\.0\.0`), "internal network access"},
}

// defaultAllowedImports is the import allow-list: HTTP clients, standard data
// handling, validation, and the project's own tool decorator module.
var defaultAllowedImports = []string{
	"requests", "httpx", "json", "re", "datetime", "pathlib", "typing",
	"math", "sys", "pydantic", "jedisos_tool",
}

// Checker runs the static analysis passes.
type Checker struct {
	allowedImports map[string]bool
	strict         bool // missing type hints become fatal
}

// Option configures a Checker.
type Option func(*Checker)

// WithAllowedImports replaces the import allow-list.
func WithAllowedImports(modules []string) Option {
	return func(c *Checker) {
		c.allowedImports = make(map[string]bool, len(modules))
		for _, m := range modules {
			c.allowedImports[m] = true
		}
	}
}

// WithStrict makes missing type hints fatal.
func WithStrict(strict bool) Option {
	return func(c *Checker) { c.strict = strict }
}

// NewChecker creates a checker with the default allow-list.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{allowedImports: make(map[string]bool)}
	for _, m := range defaultAllowedImports {
		c.allowedImports[m] = true
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var (
	importRe     = regexp.MustCompile(`^\s*import\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	fromImportRe = regexp.MustCompile(`^\s*from\s+([A-Za-z_][A-Za-z0-9_.]*)\s+import\b`)
	defRe        = regexp.MustCompile(`^\s*def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)\s*(->\s*[^:]+)?:`)
	decoratorRe  = regexp.MustCompile(`^\s*@tool\b`)
)

// Check runs every pass over code and returns the combined report.
func (c *Checker) Check(code, packageName string) *Report {
	report := &Report{Package: packageName}
	add := func(f Finding) { report.Findings = append(report.Findings, f) }

	// 1. Syntax: the artifact must be plausible source at all — non-empty,
	// balanced brackets outside strings and comments.
	if synFindings := checkSyntax(code); len(synFindings) > 0 {
		report.Findings = append(report.Findings, synFindings...)
		report.OK = false
		return report
	}

	lines := strings.Split(code, "\n")

	// 2. Forbidden patterns.
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		for _, p := range forbiddenPatterns {
			if p.re.MatchString(line) {
				add(Finding{Check: CheckForbidden, Severity: SeverityFatal, Line: i + 1, Detail: p.detail})
			}
		}
	}

	// 3. Import allow-list: every imported top-level module must be allowed.
	for i, line := range lines {
		module := ""
		if m := importRe.FindStringSubmatch(line); m != nil {
			module = m[1]
		} else if m := fromImportRe.FindStringSubmatch(line); m != nil {
			module = m[1]
		}
		if module == "" {
			continue
		}
		top := module
		if idx := strings.IndexByte(top, '.'); idx > 0 {
			top = top[:idx]
		}
		if !c.allowedImports[top] {
			add(Finding{Check: CheckImports, Severity: SeverityFatal, Line: i + 1,
				Detail: fmt.Sprintf("import of %q is not in the allow-list", top)})
		}
	}

	// 4+5. Tool-decorated defs: at least one must exist; each must carry
	// parameter and return annotations.
	hintSeverity := SeverityWarning
	if c.strict {
		hintSeverity = SeverityFatal
	}
	toolDefs := 0
	for i, line := range lines {
		if !decoratorRe.MatchString(line) {
			continue
		}
		defLine, defIdx := nextDef(lines, i+1)
		if defLine == "" {
			add(Finding{Check: CheckDecorator, Severity: SeverityFatal, Line: i + 1,
				Detail: "@tool decorator not followed by a function definition"})
			continue
		}
		toolDefs++
		m := defRe.FindStringSubmatch(defLine)
		if m == nil {
			continue
		}
		name, params, returnAnn := m[1], m[2], m[3]
		if returnAnn == "" {
			add(Finding{Check: CheckTypeHints, Severity: hintSeverity, Line: defIdx + 1,
				Detail: fmt.Sprintf("tool %q is missing a return type annotation", name)})
		}
		for _, p := range splitParams(params) {
			if p == "" || strings.HasPrefix(p, "*") {
				continue
			}
			if !strings.Contains(p, ":") {
				add(Finding{Check: CheckTypeHints, Severity: hintSeverity, Line: defIdx + 1,
					Detail: fmt.Sprintf("tool %q parameter %q is missing a type annotation", name, strings.SplitN(p, "=", 2)[0])})
			}
		}
	}
	if toolDefs == 0 {
		add(Finding{Check: CheckDecorator, Severity: SeverityFatal,
			Detail: "no @tool-decorated function found"})
	}

	report.OK = true
	for _, f := range report.Findings {
		if f.Severity == SeverityFatal {
			report.OK = false
			break
		}
	}
	return report
}

// checkSyntax performs a source-level sanity pass: non-empty input and
// balanced brackets outside strings and comments. Quotes are tracked only to
// skip string contents; an unterminated string is not reported.
func checkSyntax(code string) []Finding {
	if strings.TrimSpace(code) == "" {
		return []Finding{{Check: CheckSyntax, Severity: SeverityFatal, Detail: "empty code artifact"}}
	}

	var stack []byte
	inString := byte(0)
	escaped := false
	line := 1
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if ch == '\n' {
			line++
			if inString != 0 && !isTripleQuoted(code, i, inString) {
				inString = 0 // single-quoted strings do not span lines
			}
			escaped = false
			continue
		}
		if inString != 0 {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case inString:
				inString = 0
			}
			continue
		}
		switch ch {
		case '#':
			for i < len(code) && code[i] != '\n' {
				i++
			}
			line++
		case '\'', '"':
			inString = ch
		case '(', '[', '{':
			stack = append(stack, ch)
		case ')', ']', '}':
			if len(stack) == 0 || !matches(stack[len(stack)-1], ch) {
				return []Finding{{Check: CheckSyntax, Severity: SeverityFatal, Line: line,
					Detail: fmt.Sprintf("unbalanced %q", string(ch))}}
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 0 {
		return []Finding{{Check: CheckSyntax, Severity: SeverityFatal,
			Detail: fmt.Sprintf("unclosed %q", string(stack[len(stack)-1]))}}
	}
	return nil
}

func isTripleQuoted(code string, pos int, quote byte) bool {
	// Best effort: a quote char appearing three times in a row right before
	// pos means we are inside a docstring and newlines are fine.
	count := 0
	for i := pos - 1; i >= 0 && code[i] == quote; i-- {
		count++
	}
	return count >= 3
}

func matches(open, close byte) bool {
	switch open {
	case '(':
		return close == ')'
	case '[':
		return close == ']'
	case '{':
		return close == '}'
	}
	return false
}

// nextDef finds the def line following a decorator, skipping further
// decorators and blank lines.
func nextDef(lines []string, from int) (string, int) {
	for i := from; i < len(lines) && i < from+5; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "@") {
			continue
		}
		if strings.HasPrefix(trimmed, "def ") {
			return lines[i], i
		}
		return "", 0
	}
	return "", 0
}

// splitParams splits a def parameter list at top-level commas, respecting
// nested brackets in annotations like dict[str, int].
func splitParams(params string) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(params); i++ {
		switch params[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(params[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(params[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}
