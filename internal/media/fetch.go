// Package media resolves, normalizes and transcodes message attachments.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/magisk317/napgram/internal/logger"
	"github.com/magisk317/napgram/internal/message"
)

// DownloadTimeout bounds remote fetches; an in-flight request is aborted
// when it elapses.
const DownloadTimeout = 30 * time.Second

// Resolved is the normalized result of fetching a file reference.
type Resolved struct {
	Data     []byte
	Filename string
	MIME     string
}

// NativeDownloader pulls bytes for a platform-native media handle.
type NativeDownloader interface {
	DownloadMedia(ctx context.Context, handle any) ([]byte, error)
}

// Fetcher resolves FileRefs into bytes regardless of where they point.
type Fetcher struct {
	http   *http.Client
	native NativeDownloader
	log    *logger.Logger
}

// NewFetcher creates a fetcher. native may be nil when no platform
// downloader is available; native-handle refs then fail resolution.
func NewFetcher(native NativeDownloader, log *logger.Logger) *Fetcher {
	return &Fetcher{
		http:   &http.Client{Timeout: DownloadTimeout},
		native: native,
		log:    log.Component("media"),
	}
}

// Resolve fetches the referenced content, trying each strategy the ref
// permits before giving up. MIME is sniffed from the bytes, never trusted
// from the filename.
func (f *Fetcher) Resolve(ctx context.Context, ref message.FileRef, hintName string) (*Resolved, error) {
	switch ref.Kind {
	case message.RefBytes:
		return f.finish(ref.Data, hintName), nil

	case message.RefLocalPath:
		data, err := f.readLocal(ref.Path)
		if err != nil {
			return nil, err
		}
		name := hintName
		if name == "" {
			name = filepath.Base(ref.Path)
		}
		return f.finish(data, name), nil

	case message.RefRemoteURL:
		data, err := f.download(ctx, ref.URL)
		if err != nil {
			return nil, err
		}
		name := hintName
		if name == "" {
			name = filepath.Base(strings.SplitN(ref.URL, "?", 2)[0])
		}
		return f.finish(data, name), nil

	case message.RefNativeHandle:
		if f.native == nil {
			return nil, fmt.Errorf("no native downloader for handle")
		}
		data, err := f.native.DownloadMedia(ctx, ref.Handle)
		if err != nil {
			return nil, fmt.Errorf("native download: %w", err)
		}
		return f.finish(data, hintName), nil

	default:
		return nil, fmt.Errorf("empty file reference")
	}
}

// readLocal reads a file, with one codec-specific exception: a recorded
// voice container reporting zero bytes falls back to its sibling .wav, which
// some gateways write next to the original.
func (f *Fetcher) readLocal(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) > 0 {
		return data, nil
	}

	if sib, sibErr := os.ReadFile(path + ".wav"); sibErr == nil && len(sib) > 0 {
		f.log.Debug().Str("path", path).Msg("empty voice file, using .wav sibling")
		return sib, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return nil, fmt.Errorf("read %s: file is empty", path)
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	return data, nil
}

func (f *Fetcher) finish(data []byte, name string) *Resolved {
	mime := mimetype.Detect(data)
	if name == "" {
		name = "file" + mime.Extension()
	}
	return &Resolved{Data: data, Filename: name, MIME: mime.String()}
}
