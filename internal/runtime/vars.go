// Package runtime implements the job/agent/decision state machines: the
// pure reducer that turns one WAL entry into the next materialized
// state plus zero or more effects for the executor to run.
package runtime

import (
	"fmt"
	"regexp"
	"strings"
)

// varPattern matches ${...} references: ${var.name}, ${local.x},
// ${invoke.dir}, ${workspace.root}, ${workspace.nonce}.
var varPattern = regexp.MustCompile(`\$\{([^{}]+)\}`)

// VarContext resolves ${...} references for one step's interpolation
// pass. Locals are evaluated lazily the first time they're referenced
// and cached for the remainder of the pass.
type VarContext struct {
	Vars      map[string]string
	Invoke    map[string]string
	Workspace map[string]string

	locals      map[string]string
	localShells map[string]string
	evalLocal   func(shellExpr string) (string, error)
}

// NewVarContext returns a VarContext over job variables, with
// invoke.*/workspace.* builtins supplied by the caller. evalLocal runs
// a local's shell expression and returns its trimmed stdout; it is nil
// when no locals are declared for the job.
func NewVarContext(vars map[string]string, invoke map[string]string, workspace map[string]string, localShells map[string]string, evalLocal func(string) (string, error)) *VarContext {
	return &VarContext{
		Vars:        vars,
		Invoke:      invoke,
		Workspace:   workspace,
		locals:      make(map[string]string),
		localShells: localShells,
		evalLocal:   evalLocal,
	}
}

// Substitute replaces every ${...} reference in input with its
// resolved value, literally (no shell-escaping).
func (c *VarContext) Substitute(input string) (string, error) {
	var firstErr error
	result := varPattern.ReplaceAllStringFunc(input, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-1])
		val, err := c.resolve(path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return val
	})
	return result, firstErr
}

// SubstituteShellEscaped replaces every ${...} reference, escaping
// backticks and $() in the substituted value so a resolved variable
// cannot smuggle in further shell expansion.
func (c *VarContext) SubstituteShellEscaped(input string) (string, error) {
	var firstErr error
	result := varPattern.ReplaceAllStringFunc(input, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-1])
		val, err := c.resolve(path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return escapeShellMeta(val)
	})
	return result, firstErr
}

// escapeShellMeta neutralizes backticks and $( command substitution
// inside an already-substituted value, matching the literal-string
// substitution contract: variable values are data, never further code.
func escapeShellMeta(s string) string {
	s = strings.ReplaceAll(s, "`", "\\`")
	s = strings.ReplaceAll(s, "$(", "\\$(")
	return s
}

// SubstituteMap applies Substitute to every value in m.
func (c *VarContext) SubstituteMap(m map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		sub, err := c.Substitute(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = sub
	}
	return out, nil
}

func (c *VarContext) resolve(path string) (string, error) {
	parts := strings.SplitN(path, ".", 2)
	root := parts[0]
	var rest string
	if len(parts) == 2 {
		rest = parts[1]
	}

	switch root {
	case "var":
		v, ok := c.Vars[rest]
		if !ok {
			return "", fmt.Errorf("undefined variable: var.%s", rest)
		}
		return v, nil

	case "local":
		return c.resolveLocal(rest)

	case "invoke":
		v, ok := c.Invoke[rest]
		if !ok {
			return "", fmt.Errorf("undefined builtin: invoke.%s", rest)
		}
		return v, nil

	case "workspace":
		v, ok := c.Workspace[rest]
		if !ok {
			return "", fmt.Errorf("undefined builtin: workspace.%s", rest)
		}
		return v, nil

	default:
		return "", fmt.Errorf("unknown variable namespace: %s", root)
	}
}

func (c *VarContext) resolveLocal(name string) (string, error) {
	if v, ok := c.locals[name]; ok {
		return v, nil
	}
	expr, ok := c.localShells[name]
	if !ok {
		return "", fmt.Errorf("undefined local: local.%s", name)
	}
	if c.evalLocal == nil {
		return "", fmt.Errorf("local %q declared but no evaluator wired", name)
	}
	val, err := c.evalLocal(expr)
	if err != nil {
		return "", fmt.Errorf("evaluating local.%s: %w", name, err)
	}
	c.locals[name] = val
	return val, nil
}
