// Package sysplugin provides the system-fact collaborator consulted during
// script composition (module-change translation) and as the seed of the
// "sys" variable scope handed to the run-template resolver.
package sysplugin

import (
	"os"
	"strings"

	"github.com/not-pflarr/Pavilion/internal/perrors"
)

// Default is a minimal SysPlugin grounded on the reference "host_name"
// system plugin: it reports the short hostname as the "sys.host_name"
// variable, and translates a module-change directive into a plain `module`
// command (the common case across environment-modules and Lmod).
type Default struct{}

// ModuleChange translates a module name into the shell fragment that loads
// it, or unloads it when the name starts with "-". sysVars is accepted for parity with richer SysPlugin
// implementations that branch on system facts; Default ignores it.
func (Default) ModuleChange(module string, sysVars map[string]string) (string, error) {
	module = strings.TrimSpace(module)
	if module == "" {
		return "", perrors.New(perrors.BuildError, "empty module name")
	}
	if strings.HasPrefix(module, "-") {
		return "module unload " + module[1:], nil
	}
	return "module load " + module, nil
}

// SysVars returns the "sys" variable-set seed: the short hostname, matching
// host_name.py's `hostname -s` behavior without shelling out.
func (Default) SysVars() (map[string]string, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, perrors.Wrap(perrors.BuildError, err, "determine host name")
	}
	if i := strings.IndexByte(host, '.'); i >= 0 {
		host = host[:i]
	}
	return map[string]string{"host_name": host}, nil
}
