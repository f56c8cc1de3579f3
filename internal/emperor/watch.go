package emperor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/utils"
)

// Watch follows the vassal directory and drops registered vassals whose
// config was removed by someone else. Removals done through StopVassal
// unregister first and are not seen here. Blocks until ctx is done.
func (e *Emperor) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer utils.Close(w)

	if err := w.Add(e.opts.VassalDir); err != nil {
		return fmt.Errorf("watch %s: %w", e.opts.VassalDir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				e.forget(filepath.Base(ev.Name))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.log.Warn("vassal dir watch error", logger.Component(component), logger.Error(err))
		}
	}
}

func (e *Emperor) forget(name string) {
	if !strings.HasSuffix(name, configExt) || strings.HasPrefix(name, ".") {
		return
	}
	id := strings.TrimSuffix(name, configExt)
	// The vassal may have been replaced by the time the event arrives.
	if _, err := os.Stat(e.ConfigPath(id)); err == nil {
		return
	}

	e.mu.Lock()
	v, ok := e.vassals[id]
	if ok {
		delete(e.vassals, id)
	}
	e.mu.Unlock()

	if ok {
		e.log.Warn("vassal config removed out of band",
			logger.Component(component), logger.String("vassal", id))
		v.SetStatus(StatusStopped)
	}
}
