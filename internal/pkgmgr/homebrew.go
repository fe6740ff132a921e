// Package pkgmgr locates and installs the proxy binary.
package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/tools"
)

var (
	ErrNotFound = errors.New("proxy binary not found")
	// ErrNoPackageManager is returned by Install when Homebrew is missing and
	// bootstrapping it is not allowed.
	ErrNoPackageManager = errors.New("homebrew is not installed (set allow_bootstrap to install it)")
)

// BootstrapScript installs Homebrew non-interactively.
const BootstrapScript = `NONINTERACTIVE=1 /bin/bash -c "$(curl -fsSL https://raw.githubusercontent.com/Homebrew/install/HEAD/install.sh)"`

// DefaultSearchDirs are the Homebrew prefixes on Apple silicon and Intel.
var DefaultSearchDirs = []string{"/opt/homebrew/bin", "/usr/local/bin"}

// Homebrew acquires the binary through brew. Homebrew refuses to run as
// root, so brew commands run as User when it is set.
type Homebrew struct {
	// Runner should carry the install timeout, brew installs run long.
	Runner         tools.Runner
	Fs             afero.Fs
	Formula        string
	SearchDirs     []string
	User           string
	AllowBootstrap bool
}

// Locate returns the path of the installed binary.
func (h *Homebrew) Locate(_ context.Context) (string, error) {
	for _, dir := range h.searchDirs() {
		path := filepath.Join(dir, h.Formula)
		if ok, _ := afero.Exists(h.Fs, path); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, h.Formula)
}

// Install installs the formula, bootstrapping Homebrew first when allowed.
func (h *Homebrew) Install(ctx context.Context) error {
	brew, err := h.brew()
	if err != nil {
		if !h.AllowBootstrap {
			return ErrNoPackageManager
		}
		logger.LogStartup("Installing Homebrew")
		if _, err := h.asUser(ctx, h.Runner, "/bin/bash", "-c", BootstrapScript); err != nil {
			return fmt.Errorf("homebrew bootstrap failed: %w", err)
		}
		if brew, err = h.brew(); err != nil {
			return err
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"formula": h.Formula,
		"brew":    brew,
	}).Info("📦 Installing proxy binary")

	if _, err := h.asUser(ctx, h.Runner, brew, "install", h.Formula); err != nil {
		return fmt.Errorf("brew install %s: %w", h.Formula, err)
	}
	return nil
}

// Remove uninstalls the binary at path. Binaries under a Homebrew prefix go
// through brew; anything else is deleted directly.
func (h *Homebrew) Remove(ctx context.Context, path string) error {
	if brew, err := h.brew(); err == nil && h.managed(path) {
		if _, err := h.asUser(ctx, h.Runner, brew, "uninstall", h.Formula); err != nil {
			return fmt.Errorf("brew uninstall %s: %w", h.Formula, err)
		}
		return nil
	}
	if err := h.Fs.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (h *Homebrew) brew() (string, error) {
	for _, dir := range h.searchDirs() {
		path := filepath.Join(dir, "brew")
		if ok, _ := afero.Exists(h.Fs, path); ok {
			return path, nil
		}
	}
	return "", ErrNoPackageManager
}

func (h *Homebrew) managed(path string) bool {
	for _, dir := range h.searchDirs() {
		if strings.HasPrefix(path, dir+"/") {
			return true
		}
	}
	return false
}

func (h *Homebrew) searchDirs() []string {
	if len(h.SearchDirs) > 0 {
		return h.SearchDirs
	}
	return DefaultSearchDirs
}

func (h *Homebrew) asUser(ctx context.Context, r tools.Runner, name string, args ...string) (string, error) {
	if h.User == "" || h.User == "root" {
		return r.Run(ctx, name, args...)
	}
	return r.Run(ctx, "sudo", append([]string{"-u", h.User, name}, args...)...)
}
