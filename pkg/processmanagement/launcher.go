package processmanagement

import (
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/errors"
)

// Launcher locates and prepares worker commands
type Launcher interface {
	// Target returns the launch target path for name
	Target(name string) string
	// TargetExists reports whether the launch target for name is present
	TargetExists(name string) bool
	// Command prepares, but does not start, the worker command
	Command(name string, argv []string) (*exec.Cmd, error)
}

// ScriptLauncher runs <Dir>/<name><Extension>, through Interpreter when one is set
type ScriptLauncher struct {
	Dir         string
	Interpreter string
	Extension   string
	WaitDelay   time.Duration
}

func (l *ScriptLauncher) Target(name string) string {
	return filepath.Join(l.Dir, name+l.Extension)
}

func (l *ScriptLauncher) TargetExists(name string) bool {
	info, err := os.Stat(l.Target(name))
	return err == nil && !info.IsDir()
}

func (l *ScriptLauncher) Command(name string, argv []string) (*exec.Cmd, error) {
	target := l.Target(name)
	if !l.TargetExists(name) {
		return nil, errors.NewLaunchTargetMissingError("launch target not found", nil).
			WithContext("process", name).
			WithContext("target", target)
	}

	var cmd *exec.Cmd
	if l.Interpreter != "" {
		cmd = exec.Command(l.Interpreter, append([]string{target}, argv...)...)
	} else {
		cmd = exec.Command(target, argv...)
	}
	cmd.WaitDelay = l.WaitDelay
	setProcessGroup(cmd)

	return cmd, nil
}
