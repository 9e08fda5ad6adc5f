package onebot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/magisk317/napgram/internal/logger"
)

// MediaHandle is the opaque native handle for media the gateway holds: a
// file token that must be materialized through get_image / get_record
// before it can be read.
type MediaHandle struct {
	Kind string // "image", "record" or "video"
	File string
}

// Downloader materializes gateway media handles into bytes. It implements
// the media layer's native-downloader contract for the QQ side.
type Downloader struct {
	client *Client
	http   *http.Client
	log    *logger.Logger
}

// NewDownloader creates a downloader bound to a gateway client.
func NewDownloader(client *Client, log *logger.Logger) *Downloader {
	return &Downloader{
		client: client,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log.Component("onebot"),
	}
}

// DownloadMedia resolves a MediaHandle. The gateway responds with a local
// path or a URL; a broken path falls back to the URL before surfacing an
// error.
func (d *Downloader) DownloadMedia(ctx context.Context, handle any) ([]byte, error) {
	h, ok := handle.(*MediaHandle)
	if !ok {
		return nil, fmt.Errorf("unsupported media handle %T", handle)
	}

	var res *FileResult
	var err error
	switch h.Kind {
	case "record":
		res, err = d.client.GetRecord(ctx, h.File, "wav")
	default:
		res, err = d.client.GetImage(ctx, h.File)
	}
	if err != nil {
		return nil, fmt.Errorf("materialize %s: %w", h.Kind, err)
	}

	if res.File != "" && !strings.HasPrefix(res.File, "http") {
		data, readErr := os.ReadFile(res.File)
		if readErr == nil && len(data) > 0 {
			return data, nil
		}
		d.log.Debug().Str("path", res.File).Msg("gateway path unreadable, falling back to url")
	}

	url := res.URL
	if url == "" && strings.HasPrefix(res.File, "http") {
		url = res.File
	}
	if url == "" {
		return nil, fmt.Errorf("gateway returned no usable location for %s", h.Kind)
	}
	return d.fetch(ctx, url)
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
