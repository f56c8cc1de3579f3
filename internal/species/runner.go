package species

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command is one external step of the build pipeline.
type Command struct {
	Dir  string
	Env  []string // extra KEY=VALUE pairs on top of the process environment
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes a command to completion and returns its combined output.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs commands as local subprocesses.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%s: %w (output: %s)", c, err, strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}
