package middleware

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f0f0f0"/><circle cx="100" cy="90" r="40" fill="none" stroke="#999" stroke-width="8"/><path d="M70 90h60M100 60v60" stroke="#999" stroke-width="8"/><text x="100" y="170" text-anchor="middle" font-family="Arial" font-size="14" fill="#666">AUDIO</text></svg>`

// StaticFileServer serves word audio recordings, falling back to a
// cached placeholder icon for words without a recording yet.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Clean relative to "/" first so a leading ".." cannot climb
		// out of dir.
		cleaned := filepath.Clean("/" + r.URL.Path)
		path := filepath.Join(dir, cleaned)
		if !strings.HasPrefix(path, filepath.Clean(dir)+string(os.PathSeparator)) {
			http.NotFound(w, r)
			return
		}

		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderSVG))
	})
}
