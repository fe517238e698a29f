package varset

import (
	"testing"

	"github.com/not-pflarr/Pavilion/internal/perrors"
)

func TestResolveDeferredStrSubstitutes(t *testing.T) {
	m := New()
	if err := m.AddVarSet("sched", map[string]string{"node": "node-07"}); err != nil {
		t.Fatalf("AddVarSet: %v", err)
	}
	if err := m.AddVarSet("sys", map[string]string{"host_name": "cluster-login"}); err != nil {
		t.Fatalf("AddVarSet: %v", err)
	}

	got, err := m.ResolveDeferredStr("launch on {{ sched.node }} from {{sys.host_name}}\n")
	if err != nil {
		t.Fatalf("ResolveDeferredStr: %v", err)
	}
	want := "launch on node-07 from cluster-login\n"
	if got != want {
		t.Errorf("ResolveDeferredStr = %q, want %q", got, want)
	}
}

func TestResolveDeferredStrUnknownScope(t *testing.T) {
	m := New()
	_, err := m.ResolveDeferredStr("{{ missing.key }}")
	if perrors.KindOf(err) != perrors.TemplateError {
		t.Errorf("KindOf(err) = %v, want TEMPLATE_ERROR", perrors.KindOf(err))
	}
}

func TestResolveDeferredStrUnknownKey(t *testing.T) {
	m := New()
	if err := m.AddVarSet("sched", map[string]string{"node": "n1"}); err != nil {
		t.Fatalf("AddVarSet: %v", err)
	}
	_, err := m.ResolveDeferredStr("{{ sched.missing }}")
	if perrors.KindOf(err) != perrors.TemplateError {
		t.Errorf("KindOf(err) = %v, want TEMPLATE_ERROR", perrors.KindOf(err))
	}
}

func TestResolveDeferredStrNoPlaceholders(t *testing.T) {
	m := New()
	got, err := m.ResolveDeferredStr("plain line, nothing to resolve\n")
	if err != nil {
		t.Fatalf("ResolveDeferredStr: %v", err)
	}
	if got != "plain line, nothing to resolve\n" {
		t.Errorf("ResolveDeferredStr modified a line with no placeholders: %q", got)
	}
}

func TestAddVarSetRejectsEmptyName(t *testing.T) {
	m := New()
	if err := m.AddVarSet("", nil); perrors.KindOf(err) != perrors.TemplateError {
		t.Errorf("AddVarSet(\"\", nil) kind = %v, want TEMPLATE_ERROR", perrors.KindOf(err))
	}
}
