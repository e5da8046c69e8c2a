// Package pkgmanager implements the PackageManager abstraction (spec
// §4.5): per-family queries and mutation over a host's OS or Python
// package inventory, grounded on the same shell-line-over-HostTarget
// style as internal/host.
package pkgmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"lura/internal/host"
)

// Manager is the contract shared by the Debian, RedHat, and Python
// variants.
type Manager interface {
	// Contains reports whether pkg is currently installed.
	Contains(ctx context.Context, pkg string) (bool, error)
	// Installed reports whether every name in names is installed.
	Installed(ctx context.Context, names ...string) (bool, error)
	// Install installs names, refreshing the cached inventory after.
	Install(ctx context.Context, names ...string) error
	// InstallURL installs packages from URLs (Debian/RedHat only).
	InstallURL(ctx context.Context, urls ...string) error
	// Remove uninstalls names; purge also strips configuration files
	// where the family distinguishes the two (Debian).
	Remove(ctx context.Context, names []string, purge bool) error
	// Refresh resyncs package metadata (apt-get update on Debian; a
	// no-op elsewhere).
	Refresh(ctx context.Context) error
}

// Set is the lazy {os, pip} multiplexer returned by PackageManagers.
// Each member is constructed on first access and reused thereafter.
type Set struct {
	target host.Target

	osOnce sync.Once
	os     Manager
	osErr  error

	pipOnce    sync.Once
	pip        Manager
	pipErr     error
	PythonBins []string // override for Python binary auto-selection
}

// PackageManagers returns the lazy multiplexer bound to target.
func PackageManagers(target host.Target) *Set {
	return &Set{target: target}
}

// OS resolves the OS-family package manager (Debian or RedHat),
// detecting the family on first call.
func (s *Set) OS(ctx context.Context) (Manager, error) {
	s.osOnce.Do(func() {
		family, err := s.target.OSFamily(ctx)
		if err != nil {
			s.osErr = err
			return
		}
		switch family {
		case host.Debian:
			s.os = &debianManager{target: s.target}
		case host.RedHat:
			s.os = &redhatManager{target: s.target}
		default:
			s.osErr = fmt.Errorf("pkgmanager: unsupported os family %q", family)
		}
	})
	return s.os, s.osErr
}

// Pip resolves the Python/pip package manager, auto-selecting the
// python binary on first call.
func (s *Set) Pip(ctx context.Context) (Manager, error) {
	s.pipOnce.Do(func() {
		bins := s.PythonBins
		if len(bins) == 0 {
			bins = []string{"python3.7", "python3.6", "python3"}
		}
		bin, err := selectPythonBin(ctx, s.target, bins)
		if err != nil {
			s.pipErr = err
			return
		}
		s.pip = &pythonManager{target: s.target, bin: bin}
	})
	return s.pip, s.pipErr
}

func selectPythonBin(ctx context.Context, t host.Target, candidates []string) (string, error) {
	for _, c := range candidates {
		if t.Zero(ctx, "which "+c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("pkgmanager: no python binary found among %v", candidates)
}

// baseManager shares the cached name->version inventory and the
// contract methods built purely in terms of that cache.
type baseManager struct {
	mu        sync.Mutex
	loaded    bool
	inventory map[string]string
}

func (b *baseManager) ensure(ctx context.Context, load func(context.Context) (map[string]string, error)) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return b.inventory, nil
	}
	inv, err := load(ctx)
	if err != nil {
		return nil, err
	}
	b.inventory = inv
	b.loaded = true
	return inv, nil
}

func (b *baseManager) invalidate() {
	b.mu.Lock()
	b.loaded = false
	b.inventory = nil
	b.mu.Unlock()
}

// -- Debian --

type debianManager struct {
	base   baseManager
	target host.Target
}

func (m *debianManager) load(ctx context.Context) (map[string]string, error) {
	res, err := m.target.Run(ctx, `dpkg-query -W -f='${binary:Package}|${Version}&'`)
	if err != nil {
		return nil, err
	}
	return parseDelimited(string(res.Stdout), "&", "|"), nil
}

func (m *debianManager) Contains(ctx context.Context, pkg string) (bool, error) {
	inv, err := m.base.ensure(ctx, m.load)
	if err != nil {
		return false, err
	}
	_, ok := inv[pkg]
	return ok, nil
}

func (m *debianManager) Installed(ctx context.Context, names ...string) (bool, error) {
	return allContained(ctx, m, names)
}

func (m *debianManager) Install(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	line := "DEBIAN_FRONTEND=noninteractive apt-get install -y " + quoteAll(names)
	if _, err := m.target.Run(ctx, line); err != nil {
		return err
	}
	m.base.invalidate()
	return nil
}

func (m *debianManager) InstallURL(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	line := "DEBIAN_FRONTEND=noninteractive apt-get install -y " + quoteAll(urls)
	if _, err := m.target.Run(ctx, line); err != nil {
		return err
	}
	m.base.invalidate()
	return nil
}

func (m *debianManager) Remove(ctx context.Context, names []string, purge bool) error {
	if len(names) == 0 {
		return nil
	}
	verb := "remove"
	if purge {
		verb = "purge"
	}
	line := fmt.Sprintf("DEBIAN_FRONTEND=noninteractive apt-get %s -y %s", verb, quoteAll(names))
	if _, err := m.target.Run(ctx, line); err != nil {
		return err
	}
	m.base.invalidate()
	return nil
}

func (m *debianManager) Refresh(ctx context.Context) error {
	_, err := m.target.Run(ctx, "apt-get update")
	return err
}

// -- RedHat --

type redhatManager struct {
	base   baseManager
	target host.Target
}

func (m *redhatManager) load(ctx context.Context) (map[string]string, error) {
	res, err := m.target.Run(ctx, `rpm -qa --queryformat '%{NAME}|%{VERSION}&'`)
	if err != nil {
		return nil, err
	}
	return parseDelimited(string(res.Stdout), "&", "|"), nil
}

func (m *redhatManager) Contains(ctx context.Context, pkg string) (bool, error) {
	inv, err := m.base.ensure(ctx, m.load)
	if err != nil {
		return false, err
	}
	_, ok := inv[pkg]
	return ok, nil
}

func (m *redhatManager) Installed(ctx context.Context, names ...string) (bool, error) {
	return allContained(ctx, m, names)
}

func (m *redhatManager) Install(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	if _, err := m.target.Run(ctx, "yum install -y "+quoteAll(names)); err != nil {
		return err
	}
	m.base.invalidate()
	return nil
}

func (m *redhatManager) InstallURL(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	if _, err := m.target.Run(ctx, "yum install -y "+quoteAll(urls)); err != nil {
		return err
	}
	m.base.invalidate()
	return nil
}

func (m *redhatManager) Remove(ctx context.Context, names []string, purge bool) error {
	if len(names) == 0 {
		return nil
	}
	if _, err := m.target.Run(ctx, "yum remove -y "+quoteAll(names)); err != nil {
		return err
	}
	m.base.invalidate()
	return nil
}

func (m *redhatManager) Refresh(ctx context.Context) error {
	return nil
}

// -- Python/pip --

type pythonManager struct {
	base   baseManager
	target host.Target
	bin    string
}

type pipEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (m *pythonManager) load(ctx context.Context) (map[string]string, error) {
	res, err := m.target.Run(ctx, m.bin+" -m pip list --format json")
	if err != nil {
		return nil, err
	}
	var entries []pipEntry
	if err := json.Unmarshal(res.Stdout, &entries); err != nil {
		return nil, fmt.Errorf("pkgmanager: parse pip list output: %w", err)
	}
	inv := make(map[string]string, len(entries))
	for _, e := range entries {
		inv[e.Name] = e.Version
	}
	return inv, nil
}

func (m *pythonManager) Contains(ctx context.Context, pkg string) (bool, error) {
	inv, err := m.base.ensure(ctx, m.load)
	if err != nil {
		return false, err
	}
	_, ok := inv[pkg]
	return ok, nil
}

func (m *pythonManager) Installed(ctx context.Context, names ...string) (bool, error) {
	return allContained(ctx, m, names)
}

func (m *pythonManager) Install(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	if _, err := m.target.Run(ctx, m.bin+" -m pip install "+quoteAll(names)); err != nil {
		return err
	}
	m.base.invalidate()
	return nil
}

func (m *pythonManager) InstallURL(ctx context.Context, urls ...string) error {
	return fmt.Errorf("pkgmanager: install by url is not meaningful for the python backend")
}

func (m *pythonManager) Remove(ctx context.Context, names []string, purge bool) error {
	if len(names) == 0 {
		return nil
	}
	if _, err := m.target.Run(ctx, m.bin+" -m pip uninstall -y "+quoteAll(names)); err != nil {
		return err
	}
	m.base.invalidate()
	return nil
}

func (m *pythonManager) Refresh(ctx context.Context) error {
	return nil
}

// -- shared helpers --

// parseDelimited splits a queryformat blob emitted as
// "name|version&name|version&..." into a map.
func parseDelimited(blob, outerSep, innerSep string) map[string]string {
	inv := make(map[string]string)
	for _, rec := range strings.Split(blob, outerSep) {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		parts := strings.SplitN(rec, innerSep, 2)
		if len(parts) != 2 {
			continue
		}
		inv[parts[0]] = parts[1]
	}
	return inv
}

func allContained(ctx context.Context, m Manager, names []string) (bool, error) {
	for _, n := range names {
		ok, err := m.Contains(ctx, n)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + strings.ReplaceAll(n, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
