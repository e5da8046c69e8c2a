package config

import (
	"context"
)

// applyBody runs the declared apply steps in order, syncing between
// each, and returns the total number of changes made (spec §4.6,
// "Declared apply steps, in order").
func (c *Configuration) applyBody(ctx context.Context) (int, error) {
	steps := []func(context.Context) error{
		c.stepRefreshOSPackages,
		c.stepInstallOSPackageURLs,
		c.stepInstallOSPackages,
		c.stepInstallLangPackages,
		c.stepCreateDirectories,
		c.stepCopyFiles,
		c.stepCopyAssets,
		c.stepRenderTemplateFiles,
		c.stepRenderTemplateAssets,
		c.stepCreateSymlinks,
	}
	before := c.Changes()
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return c.Changes() - before, err
		}
		if err := c.sync(ctx); err != nil {
			return c.Changes() - before, err
		}
	}
	return c.Changes() - before, nil
}

// deleteBody runs the declared delete steps in order (spec §4.6,
// "Delete steps").
func (c *Configuration) deleteBody(ctx context.Context) (int, error) {
	steps := []func(context.Context) error{
		c.stepRemoveLangPackages,
		c.stepRemoveOSPackages,
		c.stepRemoveFilesAndSymlinks,
		c.stepRemoveDirectories,
	}
	before := c.Changes()
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return c.Changes() - before, err
		}
		if err := c.sync(ctx); err != nil {
			return c.Changes() - before, err
		}
	}
	return c.Changes() - before, nil
}

// isAppliedBody is a conjunction over packages-present and
// files-present; it never mutates anything (spec §4.6, "is_applied is
// a conjunction over packages-present and files-present").
func (c *Configuration) isAppliedBody(ctx context.Context) (bool, error) {
	if len(c.Desired.OSPackages) > 0 {
		osMgr, err := c.packManager.OS(ctx)
		if err != nil {
			return false, err
		}
		ok, err := osMgr.Installed(ctx, c.Desired.OSPackages...)
		if err != nil || !ok {
			return false, err
		}
	}
	if len(c.Desired.LangPackages) > 0 {
		pip, err := c.packManager.Pip(ctx)
		if err != nil {
			return false, err
		}
		ok, err := pip.Installed(ctx, c.Desired.LangPackages...)
		if err != nil || !ok {
			return false, err
		}
	}
	for _, pair := range allFilePairs(c.Desired) {
		exists, err := c.host.Exists(ctx, pair.Dst)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	for _, dir := range c.Desired.Directories {
		isDir, err := c.host.IsDir(ctx, dir)
		if err != nil {
			return false, err
		}
		if !isDir {
			return false, nil
		}
	}
	return true, nil
}

func allFilePairs(d DesiredState) []FilePair {
	all := make([]FilePair, 0, len(d.Files)+len(d.Assets)+len(d.TemplateFiles)+len(d.TemplateAssets)+len(d.Symlinks))
	all = append(all, d.Files...)
	all = append(all, d.Assets...)
	all = append(all, d.TemplateFiles...)
	all = append(all, d.TemplateAssets...)
	all = append(all, d.Symlinks...)
	return all
}

// -- apply steps --

func (c *Configuration) stepRefreshOSPackages(ctx context.Context) (err error) {
	silent := len(c.Desired.OSPackages) == 0
	t := c.newTask("refresh os package list", silent)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()
	if silent {
		return nil
	}

	osMgr, err := c.packManager.OS(ctx)
	if err != nil {
		return err
	}
	allPresent, err := osMgr.Installed(ctx, c.Desired.OSPackages...)
	if err != nil {
		return err
	}
	if allPresent {
		return nil
	}
	if err := osMgr.Refresh(ctx); err != nil {
		return err
	}
	t.Change()
	return nil
}

func (c *Configuration) stepInstallOSPackageURLs(ctx context.Context) (err error) {
	urls := c.Desired.OSPackageURLs
	t := c.newTask("install os package urls", len(urls) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()
	if len(urls) == 0 {
		return nil
	}

	osMgr, err := c.packManager.OS(ctx)
	if err != nil {
		return err
	}
	names := make([]string, len(urls))
	hrefs := make([]string, len(urls))
	for i, pair := range urls {
		names[i] = pair.Src
		hrefs[i] = pair.Dst
	}
	present, err := osMgr.Installed(ctx, names...)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	if err := osMgr.InstallURL(ctx, hrefs...); err != nil {
		return err
	}
	t.Change()
	return nil
}

func (c *Configuration) stepInstallOSPackages(ctx context.Context) (err error) {
	pkgs := c.Desired.OSPackages
	t := c.newTask("install os packages", len(pkgs) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()
	if len(pkgs) == 0 {
		return nil
	}

	osMgr, err := c.packManager.OS(ctx)
	if err != nil {
		return err
	}
	present, err := osMgr.Installed(ctx, pkgs...)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	if err := osMgr.Install(ctx, pkgs...); err != nil {
		return err
	}
	t.Change()
	return nil
}

func (c *Configuration) stepInstallLangPackages(ctx context.Context) (err error) {
	pkgs := c.Desired.LangPackages
	t := c.newTask("install language packages", len(pkgs) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()
	if len(pkgs) == 0 {
		return nil
	}

	pip, err := c.packManager.Pip(ctx)
	if err != nil {
		return err
	}
	present, err := pip.Installed(ctx, pkgs...)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	if err := pip.Install(ctx, pkgs...); err != nil {
		return err
	}
	t.Change()
	return nil
}

func (c *Configuration) stepCreateDirectories(ctx context.Context) (err error) {
	dirs := c.Desired.Directories
	t := c.newTask("create directories", len(dirs) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()

	for _, dir := range dirs {
		isDir, err := c.host.IsDir(ctx, dir)
		if err != nil {
			return err
		}
		if isDir {
			continue
		}
		if err := c.host.Mkdirp(ctx, dir); err != nil {
			return err
		}
		t.Change()
	}
	return nil
}

func (c *Configuration) stepCopyFiles(ctx context.Context) (err error) {
	files := c.Desired.Files
	t := c.newTask("copy files", len(files) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()
	return c.putPairs(ctx, t, files)
}

func (c *Configuration) stepCopyAssets(ctx context.Context) (err error) {
	assets := c.Desired.Assets
	t := c.newTask("copy assets", len(assets) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()

	for _, pair := range assets {
		data, err := c.Assets.Load(ctx, pair.Src)
		if err != nil {
			return err
		}
		if err := c.host.Dump(ctx, pair.Dst, data); err != nil {
			return err
		}
		t.Change()
	}
	return nil
}

func (c *Configuration) stepRenderTemplateFiles(ctx context.Context) (err error) {
	pairs := c.Desired.TemplateFiles
	t := c.newTask("render template files", len(pairs) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()

	for _, pair := range pairs {
		rendered, err := c.Renderer.Render(ctx, pair.Src, c.args)
		if err != nil {
			return err
		}
		if err := c.host.Dump(ctx, pair.Dst, rendered); err != nil {
			return err
		}
		t.Change()
	}
	return nil
}

func (c *Configuration) stepRenderTemplateAssets(ctx context.Context) (err error) {
	pairs := c.Desired.TemplateAssets
	t := c.newTask("render template assets", len(pairs) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()

	for _, pair := range pairs {
		raw, err := c.Assets.Load(ctx, pair.Src)
		if err != nil {
			return err
		}
		rendered, err := renderBytes(raw, c.args)
		if err != nil {
			return err
		}
		if err := c.host.Dump(ctx, pair.Dst, rendered); err != nil {
			return err
		}
		t.Change()
	}
	return nil
}

func (c *Configuration) stepCreateSymlinks(ctx context.Context) (err error) {
	links := c.Desired.Symlinks
	t := c.newTask("create symlinks", len(links) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()

	for _, pair := range links {
		isLink, err := c.host.IsLink(ctx, pair.Dst)
		if err != nil {
			return err
		}
		if isLink {
			continue
		}
		if err := c.host.Lns(ctx, pair.Src, pair.Dst); err != nil {
			return err
		}
		t.Change()
	}
	return nil
}

func (c *Configuration) putPairs(ctx context.Context, t *Task, pairs []FilePair) error {
	for _, pair := range pairs {
		exists, err := c.host.Exists(ctx, pair.Dst)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := c.host.Put(ctx, pair.Src, pair.Dst); err != nil {
			return err
		}
		t.Change()
	}
	return nil
}

// -- delete steps --

func (c *Configuration) stepRemoveLangPackages(ctx context.Context) (err error) {
	pkgs := c.Desired.LangPackages
	t := c.newTask("remove language packages", len(pkgs) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()
	if len(pkgs) == 0 {
		return nil
	}
	pip, err := c.packManager.Pip(ctx)
	if err != nil {
		return err
	}
	if err := pip.Remove(ctx, pkgs, false); err != nil {
		return err
	}
	t.Change()
	return nil
}

func (c *Configuration) stepRemoveOSPackages(ctx context.Context) (err error) {
	pkgs := c.Desired.OSPackages
	silent := len(pkgs) == 0 || c.Desired.KeepOSPackages
	t := c.newTask("remove os packages", silent)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()
	if silent {
		return nil
	}
	osMgr, err := c.packManager.OS(ctx)
	if err != nil {
		return err
	}
	if err := osMgr.Remove(ctx, pkgs, false); err != nil {
		return err
	}
	t.Change()
	return nil
}

func (c *Configuration) stepRemoveFilesAndSymlinks(ctx context.Context) (err error) {
	pairs := allFilePairs(c.Desired)
	t := c.newTask("remove files and symlinks", len(pairs) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()

	for _, pair := range pairs {
		exists, err := c.host.Exists(ctx, pair.Dst)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := c.host.Rmf(ctx, pair.Dst); err != nil {
			return err
		}
		t.Change()
	}
	return nil
}

func (c *Configuration) stepRemoveDirectories(ctx context.Context) (err error) {
	dirs := c.Desired.Directories
	t := c.newTask("remove directories", len(dirs) == 0)
	defer func() { t.End(&err); c.addChanges(t.Changes()) }()

	for _, dir := range dirs {
		isDir, err := c.host.IsDir(ctx, dir)
		if err != nil {
			return err
		}
		if !isDir {
			continue
		}
		if c.Desired.KeepNonEmptyDirs {
			entries, err := c.host.Ls(ctx, dir)
			if err != nil {
				return err
			}
			if len(entries) > 0 {
				continue
			}
		}
		if err := c.host.Rmdir(ctx, dir); err != nil {
			return err
		}
		t.Change()
	}
	return nil
}

func renderBytes(raw []byte, vars map[string]any) ([]byte, error) {
	// Asset-sourced templates arrive as bytes from the AssetLoader
	// collaborator rather than a filesystem path, so they go through
	// DefaultTemplateRenderer's in-memory variant instead of Render.
	return DefaultTemplateRenderer{}.RenderBytes(raw, vars)
}
