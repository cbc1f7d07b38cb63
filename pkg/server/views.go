// SPDX-License-Identifier: Apache-2.0

package server

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

//go:embed templates/default/*.html
var defaultTemplates embed.FS

// View names renderable by the server.
const (
	ViewIndex  = "index"
	ViewLogin  = "login"
	ViewLogout = "logout"
	ViewError  = "error"
)

// ViewData is the payload handed to every template.
type ViewData struct {
	// Title is the page title.
	Title string

	// Tenant is the tenant the page is rendered for, nil when unresolved.
	Tenant *entities.Tenant

	// Location is the URL the login form posts back as hidden field.
	Location string

	// LoginID binds the rendered form to the subsequent POST.
	LoginID string

	// ErrorCode is the short enum code shown on error pages.
	ErrorCode string

	// RedirectURI is where the logout page navigates next.
	RedirectURI string

	// Version is the operator-facing build version.
	Version string
}

// Views renders HTML pages. Tenants may override any default template by
// placing a file of the same name below <dir>/<tenant-slug>/.
type Views struct {
	dir      string
	defaults map[string]*template.Template
}

// NewViews parses the embedded default templates. dir is the directory the
// template loader fills with tenant overrides.
func NewViews(dir string) (*Views, error) {
	v := &Views{dir: dir, defaults: make(map[string]*template.Template)}
	for _, name := range []string{ViewIndex, ViewLogin, ViewLogout, ViewError} {
		tpl, err := template.ParseFS(defaultTemplates, "templates/default/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse default template %s: %w", name, err)
		}
		v.defaults[name] = tpl
	}
	return v, nil
}

// Render writes the named view with the given status. A broken tenant
// override falls back to the default template.
func (v *Views) Render(w http.ResponseWriter, status int, tenant *entities.Tenant, name string, data ViewData) {
	data.Tenant = tenant
	tpl := v.defaults[name]

	if tenant != nil {
		path := filepath.Join(v.dir, tenant.Slug(), name+".html")
		if _, err := os.Stat(path); err == nil {
			custom, err := template.ParseFiles(path)
			if err != nil {
				logger.Warnw("broken tenant template, falling back to default",
					"tenant", tenant.Name, "template", name, "error", err)
			} else {
				tpl = custom
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tpl.Execute(w, data); err != nil {
		logger.Errorw("template execution failed", "template", name, "error", err)
	}
}
