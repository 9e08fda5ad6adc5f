package media

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magisk317/napgram/internal/logger"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestIsAnimated(t *testing.T) {
	assert.True(t, IsAnimated([]byte{0x1f, 0x8b, 0x08, 0x00}))
	assert.False(t, IsAnimated([]byte("RIFF....WEBP")))
	assert.False(t, IsAnimated(nil))
}

func TestConvert_StaticBecomesPNG(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	s := NewStickerConverter(cache, t.TempDir(), nil, logger.Nop())

	src := jpegBytes(t, 8, 8)
	out, ext, err := s.Convert(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, ".png", ext)
	assert.True(t, bytes.HasPrefix(out, []byte{0x89, 'P', 'N', 'G'}))
}

func TestConvert_StaticResultIsCached(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	s := NewStickerConverter(cache, t.TempDir(), nil, logger.Nop())

	src := jpegBytes(t, 8, 8)
	first, _, err := s.Convert(context.Background(), src)
	require.NoError(t, err)

	// poison the cache entry to prove the second call reads it
	key := cache.Key(src, ".png")
	require.NoError(t, cache.Put(key, []byte("cached")))

	second, ext, err := s.Convert(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, ".png", ext)
	assert.Equal(t, []byte("cached"), second)
	assert.NotEqual(t, first, second)
}

func TestConvert_AnimatedCacheHitSkipsEncoder(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	// no encoder configured: a cache miss would fail
	s := NewStickerConverter(cache, t.TempDir(), nil, logger.Nop())

	tgs := []byte{0x1f, 0x8b, 0x08, 0x00, 0x01}
	require.NoError(t, cache.Put(cache.Key(tgs, ".gif"), []byte("GIF89a")))

	out, ext, err := s.Convert(context.Background(), tgs)
	require.NoError(t, err)
	assert.Equal(t, ".gif", ext)
	assert.Equal(t, []byte("GIF89a"), out)
}

func TestConvert_AnimatedWithoutEncoderFails(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	s := NewStickerConverter(cache, t.TempDir(), nil, logger.Nop())

	_, _, err = s.Convert(context.Background(), []byte{0x1f, 0x8b, 0x00})
	assert.Error(t, err)
}
