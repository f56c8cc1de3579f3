package emperor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrSnakeDoc/forest/internal/logger"
)

// Launch starts the supervisor unless the pidfile points at a live process.
// The supervisor daemonizes, so the command returns once it is up.
func (e *Emperor) Launch(ctx context.Context) error {
	if pid, ok := e.runningPID(); ok {
		e.log.Info("found running emperor server",
			logger.Component(component), logger.Int("pid", pid))
		return nil
	}

	args := e.launchArgs()
	out, err := exec.CommandContext(ctx, e.opts.Binary, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("start emperor: %w: %s", err, strings.TrimSpace(string(out)))
	}
	e.log.Info("started emperor server",
		logger.Component(component), logger.String("vassal_dir", e.opts.VassalDir))
	return nil
}

// Shutdown stops the supervisor and clears every vassal config, so the
// next Launch starts from an empty directory.
func (e *Emperor) Shutdown(ctx context.Context) error {
	e.log.Info("stopping uwsgi emperor", logger.Component(component))

	out, err := exec.CommandContext(ctx, e.opts.Binary, "--stop", e.opts.Pidfile).CombinedOutput()
	if err != nil {
		return fmt.Errorf("stop emperor: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if err := os.Remove(e.opts.Pidfile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pidfile: %w", err)
	}

	ids, err := e.VassalIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := os.Remove(e.ConfigPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove config of %s: %w", id, err)
		}
	}
	return nil
}

func (e *Emperor) launchArgs() []string {
	args := []string{
		"--plugins-dir", e.opts.PluginsDir,
		"--emperor", e.opts.VassalDir,
		"--pidfile", e.opts.Pidfile,
	}
	if e.opts.LogTarget != "" {
		args = append(args, "--logger", e.opts.LogTarget)
	}
	return append(args,
		"--daemonize", "/dev/null",
		"--emperor-stats", e.opts.StatsAddr,
		"--emperor-required-heartbeat", strconv.Itoa(e.opts.Heartbeat),
		"--emperor-throttle", strconv.Itoa(e.opts.Throttle),
		"--vassal-set", "plugins-dir="+e.opts.PluginsDir,
	)
}

// runningPID reads the pidfile and checks the process is alive. A stale
// pidfile is removed.
func (e *Emperor) runningPID() (int, bool) {
	raw, err := os.ReadFile(e.opts.Pidfile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err == nil && pid > 0 && alive(pid) {
		return pid, true
	}
	_ = os.Remove(e.opts.Pidfile)
	return 0, false
}
