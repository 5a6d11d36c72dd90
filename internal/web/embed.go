// Package web embeds the browser preview adapter and the review page that
// hosts it.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
)

//go:embed dist/*
var staticFiles embed.FS

// GetFileSystem returns the embedded filesystem with the dist folder as root.
func GetFileSystem() (fs.FS, error) {
	return fs.Sub(staticFiles, "dist")
}

// RegisterStaticRoutes serves the embedded files. The API routes should be
// registered first; they take precedence over the catch-all.
func RegisterStaticRoutes(e *echo.Echo) error {
	staticFS, err := GetFileSystem()
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	e.GET("/*", func(c echo.Context) error {
		requestPath := strings.TrimPrefix(path.Clean(c.Request().URL.Path), "/")
		if requestPath == "" || requestPath == "." {
			return serveIndexHTML(c, staticFS)
		}

		stat, err := fs.Stat(staticFS, requestPath)
		switch {
		case err == nil && !stat.IsDir():
			fileServer.ServeHTTP(c.Response(), c.Request())
			return nil
		case path.Ext(requestPath) != "":
			// Missing assets are real 404s, not page routes.
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return serveIndexHTML(c, staticFS)
	})

	return nil
}

// serveIndexHTML serves the review page for page routes such as /review/DCN-1.
func serveIndexHTML(c echo.Context, staticFS fs.FS) error {
	content, err := fs.ReadFile(staticFS, "index.html")
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "index.html not found")
	}
	return c.HTMLBlob(http.StatusOK, content)
}

// HasEmbeddedFiles reports whether the review page is embedded.
func HasEmbeddedFiles() bool {
	_, err := fs.Stat(staticFiles, "dist/index.html")
	return err == nil
}
