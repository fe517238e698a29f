// Package varset provides the run-template variable resolver consumed by
// TestInstance.Run: a minimal VariableSetManager that substitutes deferred
// `{{ scope.name }}`-style placeholders from named variable scopes (at
// minimum "sched" and "sys") at run time, after the scheduler has decided
// where the test will actually execute.
package varset

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/not-pflarr/Pavilion/internal/perrors"
)

// deferredRE matches a "{{ scope.name }}" placeholder, with optional
// whitespace around the dotted path.
var deferredRE = regexp.MustCompile(`\{\{\s*([A-Za-z_][\w]*)\.([A-Za-z_][\w]*)\s*\}\}`)

// Manager holds named variable scopes (sched, sys, ...) and resolves
// deferred placeholders against them.
type Manager struct {
	scopes map[string]map[string]string
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{scopes: map[string]map[string]string{}}
}

// AddVarSet registers (or replaces) a named scope of variables.
func (m *Manager) AddVarSet(name string, vars map[string]string) error {
	if name == "" {
		return perrors.New(perrors.TemplateError, "variable set name must not be empty")
	}
	m.scopes[name] = vars
	return nil
}

// ResolveDeferredStr substitutes every "{{ scope.name }}" placeholder in
// line against the registered scopes. An unresolvable reference is a
// TEMPLATE_ERROR, matching spec 4.8's KEYERROR/TEMPLATE_ERROR contract.
func (m *Manager) ResolveDeferredStr(line string) (string, error) {
	var firstErr error
	out := deferredRE.ReplaceAllStringFunc(line, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := deferredRE.FindStringSubmatch(match)
		scope, key := groups[1], groups[2]
		vars, ok := m.scopes[scope]
		if !ok {
			firstErr = perrors.Errorf(perrors.TemplateError, "unknown variable scope %q", scope)
			return match
		}
		val, ok := vars[key]
		if !ok {
			firstErr = perrors.Errorf(perrors.TemplateError, "unknown variable %q in scope %q", key, scope)
			return match
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// String renders a Manager's scopes for debugging/logging.
func (m *Manager) String() string {
	var b strings.Builder
	for scope, vars := range m.scopes {
		fmt.Fprintf(&b, "%s: %v\n", scope, vars)
	}
	return b.String()
}
