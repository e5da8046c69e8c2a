package config

import (
	"bytes"
	"context"
	"os"
	"text/template"
)

// TemplateRenderer is the out-of-scope template expander collaborator
// (spec §1, "Out of scope"): Configuration only needs to call it, not
// own its implementation.
type TemplateRenderer interface {
	Render(ctx context.Context, templatePath string, vars map[string]any) ([]byte, error)
}

// AssetLoader is the out-of-scope assets loader collaborator.
type AssetLoader interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

// DefaultTemplateRenderer renders local text/template files. It is
// the library's own stand-in for the named-but-out-of-scope template
// expander; any caller with a richer templating story can supply its
// own TemplateRenderer instead.
type DefaultTemplateRenderer struct{}

func (DefaultTemplateRenderer) Render(ctx context.Context, templatePath string, vars map[string]any) ([]byte, error) {
	tmpl, err := template.ParseFiles(templatePath)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderBytes renders in-memory template content, for callers (such
// as template-asset steps) whose source bytes didn't come from a
// filesystem path.
func (DefaultTemplateRenderer) RenderBytes(raw []byte, vars map[string]any) ([]byte, error) {
	tmpl, err := template.New("asset").Parse(string(raw))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DefaultAssetLoader loads assets from the local filesystem relative
// to a base directory.
type DefaultAssetLoader struct {
	BaseDir string
}

func (l DefaultAssetLoader) Load(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(l.BaseDir + "/" + name)
}
