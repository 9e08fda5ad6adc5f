package media

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/magisk317/napgram/internal/logger"
)

// FileServer exposes a temp directory over HTTP so the QQ gateway, which
// cannot accept raw bytes inline, can fetch media the bridge holds in
// memory. When the gateway shares a filesystem with the bridge the shared
// path is used instead and this server stays idle.
type FileServer struct {
	dir     string
	baseURL string
	srv     *http.Server
	log     *logger.Logger
}

// NewFileServer creates a server rooted at dir, reachable at baseURL
// (e.g. "http://127.0.0.1:3721").
func NewFileServer(dir, addr, baseURL string, log *logger.Logger) *FileServer {
	r := chi.NewRouter()
	r.Get("/media/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		// URLParam never contains a separator, so joining is safe
		http.ServeFile(w, req, filepath.Join(dir, filepath.Base(name)))
	})

	return &FileServer{
		dir:     dir,
		baseURL: baseURL,
		srv:     &http.Server{Addr: addr, Handler: r},
		log:     log.Component("fileserver"),
	}
}

// Start begins serving in the background.
func (f *FileServer) Start() error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	go func() {
		if err := f.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			f.log.Error().Err(err).Msg("file server stopped")
		}
	}()
	f.log.Info().Str("addr", f.srv.Addr).Msg("media file server listening")
	return nil
}

// Stop shuts the server down.
func (f *FileServer) Stop() {
	_ = f.srv.Close()
}

// Publish writes bytes into the served directory and returns the URL the
// gateway can fetch them from.
func (f *FileServer) Publish(data []byte, ext string) (string, error) {
	name := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(f.dir, name), data, 0644); err != nil {
		return "", fmt.Errorf("publish media: %w", err)
	}
	return f.baseURL + "/media/" + name, nil
}

// DirPublisher publishes media into a directory the gateway mounts too, so
// no HTTP round trip is needed.
type DirPublisher struct {
	Dir string
}

// Publish writes the bytes and returns their shared-filesystem path.
func (p DirPublisher) Publish(data []byte, ext string) (string, error) {
	return PublishToDir(p.Dir, data, ext)
}

// PublishToDir writes bytes into a directory shared with the gateway and
// returns the absolute path.
func PublishToDir(dir string, data []byte, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create shared dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write shared media: %w", err)
	}
	return path, nil
}
