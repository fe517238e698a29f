package sysplugin

import (
	"testing"

	"github.com/not-pflarr/Pavilion/internal/perrors"
)

func TestModuleChangeLoad(t *testing.T) {
	got, err := Default{}.ModuleChange("gcc/12", nil)
	if err != nil {
		t.Fatalf("ModuleChange: %v", err)
	}
	if want := "module load gcc/12"; got != want {
		t.Errorf("ModuleChange = %q, want %q", got, want)
	}
}

func TestModuleChangeUnload(t *testing.T) {
	got, err := Default{}.ModuleChange("-gcc/12", nil)
	if err != nil {
		t.Fatalf("ModuleChange: %v", err)
	}
	if want := "module unload gcc/12"; got != want {
		t.Errorf("ModuleChange = %q, want %q", got, want)
	}
}

func TestModuleChangeRejectsEmpty(t *testing.T) {
	_, err := Default{}.ModuleChange("  ", nil)
	if perrors.KindOf(err) != perrors.BuildError {
		t.Errorf("KindOf(err) = %v, want BUILD_ERROR", perrors.KindOf(err))
	}
}

func TestSysVarsHasHostName(t *testing.T) {
	vars, err := Default{}.SysVars()
	if err != nil {
		t.Fatalf("SysVars: %v", err)
	}
	if _, ok := vars["host_name"]; !ok {
		t.Error("SysVars() missing host_name key")
	}
}
