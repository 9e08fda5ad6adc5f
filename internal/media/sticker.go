package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/magisk317/napgram/internal/logger"
)

// tgsMagic is the gzip signature; Telegram animated stickers (.tgs) are
// gzipped lottie JSON.
var tgsMagic = []byte{0x1f, 0x8b}

// StickerConverter rewrites Telegram sticker formats into rasters QQ can
// display: animated TGS becomes GIF through an external encoder, static
// WebP becomes PNG.
type StickerConverter struct {
	cache   *Cache
	tempDir string
	// tgsArgv is the external encoder invocation with {in}/{out}
	// placeholders, e.g. ["tgs_to_gif", "{in}", "--output", "{out}"].
	tgsArgv []string
	log     *logger.Logger
}

// NewStickerConverter creates a sticker converter.
func NewStickerConverter(cache *Cache, tempDir string, tgsArgv []string, log *logger.Logger) *StickerConverter {
	return &StickerConverter{
		cache:   cache,
		tempDir: tempDir,
		tgsArgv: tgsArgv,
		log:     log.Component("media"),
	}
}

// IsAnimated reports whether the sticker bytes are a TGS animation.
func IsAnimated(data []byte) bool {
	return bytes.HasPrefix(data, tgsMagic)
}

// Convert returns raster bytes plus the output extension (".gif" or ".png").
func (s *StickerConverter) Convert(ctx context.Context, data []byte) ([]byte, string, error) {
	if IsAnimated(data) {
		out, err := s.animatedToGIF(ctx, data)
		return out, ".gif", err
	}

	key := s.cache.Key(data, ".png")
	if cached := s.cache.Get(key); cached != nil {
		return cached, ".png", nil
	}

	out, err := ToPNG(data)
	if err != nil {
		return nil, "", fmt.Errorf("sticker to png: %w", err)
	}
	if err := s.cache.Put(key, out); err != nil {
		s.log.Debug().Err(err).Msg("sticker cache write failed")
	}
	return out, ".png", nil
}

func (s *StickerConverter) animatedToGIF(ctx context.Context, data []byte) ([]byte, error) {
	key := s.cache.Key(data, ".gif")
	if cached := s.cache.Get(key); cached != nil {
		return cached, nil
	}

	if err := os.MkdirAll(s.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	inPath := filepath.Join(s.tempDir, uuid.NewString()+".tgs")
	outPath := s.cache.Path(key)
	defer os.Remove(inPath)

	if err := os.WriteFile(inPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write tgs temp file: %w", err)
	}

	if err := runEncoder(ctx, s.tgsArgv, inPath, outPath); err != nil {
		_ = os.Remove(outPath)
		return nil, fmt.Errorf("tgs to gif: %w", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read gif output: %w", err)
	}
	return out, nil
}
