package watcher

import (
	"context"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// DefaultEnvKeys are the environment variables tracked for the observed shell.
var DefaultEnvKeys = []string{"SHELL", "TERM", "USER", "LANG", "VIRTUAL_ENV", "CONDA_DEFAULT_ENV", "KUBECONFIG"}

// EnvProbe reports the observed shell's working directory (key "cwd") and
// selected environment variables.
type EnvProbe interface {
	Snapshot(ctx context.Context) (map[string]string, error)
}

// ShellEnv probes a shell process. Values that cannot be read from the
// process fall back to this process's own cwd and environment.
type ShellEnv struct {
	PID  int32
	Keys []string
}

// NewShellEnv observes the process that launched termctx.
func NewShellEnv(keys []string) *ShellEnv {
	return &ShellEnv{PID: int32(os.Getppid()), Keys: keys}
}

func (s *ShellEnv) Snapshot(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s.Keys)+1)

	var environ []string
	if p, err := process.NewProcessWithContext(ctx, s.PID); err == nil {
		if cwd, err := p.CwdWithContext(ctx); err == nil {
			out["cwd"] = cwd
		}
		if env, err := p.EnvironWithContext(ctx); err == nil {
			environ = env
		}
	}
	if _, ok := out["cwd"]; !ok {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		out["cwd"] = cwd
	}
	if environ == nil {
		environ = os.Environ()
	}

	wanted := make(map[string]bool, len(s.Keys))
	for _, k := range s.Keys {
		wanted[k] = true
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && wanted[k] {
			out[k] = v
		}
	}
	return out, nil
}
