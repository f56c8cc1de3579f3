// Package air runs the reverse proxy front end and manages the list of
// host names it accepts subscriptions for.
package air

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrSnakeDoc/forest/internal/emperor"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/utils"
)

const (
	component = "Air"

	// Kind is the vassal variant name.
	Kind = "Fastrouter"

	vassalID   = "fastrouter"
	defaultKey = "default.pem"
)

var ErrInvalidHost = errors.New("invalid host name")

// Options configures the proxy.
type Options struct {
	Host       string // subscription server bind address
	Port       int    // public fastrouter port on 127.0.0.1, default 3000
	Fastrouter int    // subscription server port
	KeyDir     string // signed subscription public keys, one <host>.pem each
}

// Fastrouter is the proxy vassal.
type Fastrouter struct {
	*emperor.Base
	opts Options
}

func (f *Fastrouter) Config() (string, error) {
	var b strings.Builder
	b.WriteString("[uwsgi]\n")
	fmt.Fprintf(&b, "fastrouter=127.0.0.1:%d\n", f.opts.Port)
	fmt.Fprintf(&b, "fastrouter-subscription-server=%s:%d\n", f.opts.Host, f.opts.Fastrouter)
	fmt.Fprintf(&b, "subscriptions-sign-check=SHA1:%s\n", f.opts.KeyDir)
	b.WriteString(f.ExtrasConfig())
	return b.String(), nil
}

// Air owns the fastrouter vassal and its key directory.
type Air struct {
	opts   Options
	sup    *emperor.Emperor
	router *Fastrouter
	log    logger.Logger
}

func New(opts Options, sup *emperor.Emperor, log logger.Logger) *Air {
	if opts.Port == 0 {
		opts.Port = 3000
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Air{
		opts:   opts,
		sup:    sup,
		router: &Fastrouter{Base: emperor.NewBase(Kind, vassalID, log), opts: opts},
		log:    log,
	}
}

// Start hands the fastrouter to the emperor.
func (a *Air) Start() error {
	if err := os.MkdirAll(a.opts.KeyDir, 0o755); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	a.router.SetStatus(emperor.StatusStarted)
	if _, err := a.sup.StartVassal(a.router); err != nil {
		a.router.SetStatus(emperor.StatusFailed)
		return err
	}
	a.log.Info("Started air", logger.Component(component),
		logger.Int("port", a.opts.Port), logger.Int("fastrouter", a.opts.Fastrouter))
	return nil
}

func (a *Air) Stop() error {
	a.router.SetStatus(emperor.StatusStopped)
	return a.sup.StopVassal(a.router)
}

// Router exposes the fastrouter vassal.
func (a *Air) Router() *Fastrouter { return a.router }

// AllowHost lets leaves subscribe host by installing the default public key
// under the host's name. It reports whether a key was created.
func (a *Air) AllowHost(host string) (bool, error) {
	host = strings.TrimSpace(host)
	if host == "" || host != filepath.Base(host) || strings.HasPrefix(host, ".") {
		return false, fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}

	keyFile := filepath.Join(a.opts.KeyDir, host+".pem")
	if _, err := os.Stat(keyFile); err == nil {
		return false, nil
	}

	a.log.Info(fmt.Sprintf("Creating key for address: %s", host), logger.Component(component))
	if err := copyNew(filepath.Join(a.opts.KeyDir, defaultKey), keyFile); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// copyNew copies src to dst, failing with fs.ErrExist when dst exists.
func copyNew(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open default key: %w", err)
	}
	defer utils.Close(in)

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
