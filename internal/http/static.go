package http

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// StaticHandler serves files from fsys. Paths with no matching file get the JSON 404
// instead of the file server's plain-text one.
func StaticHandler(fsys fs.FS) http.Handler {
	files := http.FileServer(http.FS(fsys))
	notFound := NotFoundHandler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		info, err := fs.Stat(fsys, name)
		if err != nil {
			notFound.ServeHTTP(w, r)
			return
		}
		if info.IsDir() {
			if _, err := fs.Stat(fsys, path.Join(name, "index.html")); err != nil {
				notFound.ServeHTTP(w, r)
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}
