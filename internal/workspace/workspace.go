// Package workspace exposes the host side of a session to the backend in the
// shape backend scripts address it: the active document, the workspace
// folders and per-section settings.
//
//	vscode.window.activeTextEditor.document.uri.fsPath
//	vscode.workspace.workspaceFolders[0].uri.fsPath
//	vscode.workspace.getWorkspaceFolder(uri).uri.fsPath
//	vscode.workspace.getConfiguration("pyxt").get("agPath")
package workspace

import (
	"context"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/runger/xt/internal/proxy"
)

// URI is a file location as backend scripts read it.
type URI struct {
	Scheme string `json:"scheme"`
	Path   string `json:"path"`
	FsPath string `json:"fsPath"`
}

// FileURI returns the file URI of path. Relative paths are made absolute.
func FileURI(path string) URI {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return URI{Scheme: "file", Path: p, FsPath: path}
}

// String renders the URI as file:///path.
func (u URI) String() string {
	return (&url.URL{Scheme: u.Scheme, Path: u.Path}).String()
}

// LocalPath returns the filesystem path of u.
func (u URI) LocalPath() string {
	if u.FsPath != "" {
		return u.FsPath
	}
	p := u.Path
	if runtime.GOOS == "windows" && len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// Folder is one workspace folder.
type Folder struct {
	URI   URI    `json:"uri"`
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// Settings reads configuration values by section and key.
type Settings interface {
	Setting(section, key string) (any, bool)
}

// Options configures a Workspace.
type Options struct {
	// ActivePath returns the path of the active document, if any.
	ActivePath func() (string, bool)

	// Folders are the workspace root directories, in order.
	Folders []string

	Settings Settings
}

// Workspace is the host view served under the "vscode" root.
type Workspace struct {
	active   func() (string, bool)
	folders  []Folder
	settings Settings
}

// New creates a Workspace.
func New(opts Options) *Workspace {
	w := &Workspace{
		active:   opts.ActivePath,
		settings: opts.Settings,
	}
	for i, dir := range opts.Folders {
		uri := FileURI(dir)
		w.folders = append(w.folders, Folder{
			URI:   uri,
			Name:  filepath.Base(uri.FsPath),
			Index: i,
		})
	}
	return w
}

// Folders returns the workspace folders.
func (w *Workspace) Folders() []Folder {
	return append([]Folder(nil), w.folders...)
}

// FolderFor returns the innermost workspace folder containing path.
func (w *Workspace) FolderFor(path string) (Folder, bool) {
	var (
		best  Folder
		found bool
	)
	for _, f := range w.folders {
		rel, err := filepath.Rel(f.URI.FsPath, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if !found || len(f.URI.FsPath) > len(best.URI.FsPath) {
			best, found = f, true
		}
	}
	return best, found
}

// Setting reads section.key, falling back to def.
func (w *Workspace) Setting(section, key string, def any) any {
	if w.settings != nil {
		if v, ok := w.settings.Setting(section, key); ok && v != nil {
			return v
		}
	}
	return def
}

// Object returns the proxy view of the workspace.
func (w *Workspace) Object() proxy.Object {
	return proxy.Members{
		"window": proxy.Value(proxy.Members{
			"activeTextEditor": proxy.Prop(w.activeEditor),
		}),
		"workspace": proxy.Value(proxy.Members{
			"workspaceFolders": proxy.Prop(func(context.Context) (any, error) {
				if len(w.folders) == 0 {
					return nil, nil
				}
				return w.Folders(), nil
			}),
			"rootPath": proxy.Prop(func(context.Context) (any, error) {
				if len(w.folders) == 0 {
					return nil, nil
				}
				return w.folders[0].URI.FsPath, nil
			}),
			"getWorkspaceFolder": proxy.Func(w.getWorkspaceFolder),
			"getConfiguration":   proxy.Func(w.getConfiguration),
		}),
	}
}

func (w *Workspace) activeEditor(context.Context) (any, error) {
	if w.active == nil {
		return nil, nil
	}
	path, ok := w.active()
	if !ok || path == "" {
		return nil, nil
	}
	uri := FileURI(path)
	return proxy.Members{
		"document": proxy.Value(proxy.Members{
			"uri":        proxy.Value(uri),
			"fileName":   proxy.Value(uri.FsPath),
			"isUntitled": proxy.Value(false),
		}),
	}, nil
}

func (w *Workspace) getWorkspaceFolder(_ context.Context, args proxy.Args) (any, error) {
	var uri URI
	if err := args.Decode(0, &uri); err != nil {
		return nil, err
	}
	folder, ok := w.FolderFor(uri.LocalPath())
	if !ok {
		return nil, nil
	}
	return folder, nil
}

func (w *Workspace) getConfiguration(_ context.Context, args proxy.Args) (any, error) {
	var section string
	if _, err := args.Optional(0, &section); err != nil {
		return nil, err
	}
	return proxy.Members{
		"get": proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			key, err := args.String(0)
			if err != nil {
				return nil, err
			}
			var def any
			if _, err := args.Optional(1, &def); err != nil {
				return nil, err
			}
			return w.Setting(section, key, def), nil
		}),
		"has": proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			key, err := args.String(0)
			if err != nil {
				return nil, err
			}
			return w.Setting(section, key, nil) != nil, nil
		}),
	}, nil
}
