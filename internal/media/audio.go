package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/sjzar/go-silk"

	"github.com/magisk317/napgram/internal/logger"
)

// silkMagic is the SILK v3 stream signature. QQ voice files carry it either
// bare or behind a single 0x02 prefix byte.
var silkMagic = []byte("#!SILK_V3")

const silkSampleRate = 24000

// VoiceTranscoder converts between QQ's SILK voice codec and Telegram's
// OGG/Opus voice codec. SILK decoding has an in-process fast path; every
// other leg goes through an external general-purpose transcoder.
type VoiceTranscoder struct {
	tempDir string
	// ffmpegArgv templates: {in} and {out} are substituted per call.
	pcmToOggArgv []string
	oggToPCMArgv []string
	// silkEncArgv encodes raw PCM to SILK via an external codec binary.
	silkEncArgv []string
	log         *logger.Logger
}

// VoiceEncoders configures the external encoder invocations.
type VoiceEncoders struct {
	PCMToOgg  []string
	OggToPCM  []string
	PCMToSilk []string
}

// DefaultVoiceEncoders returns ffmpeg/silk invocations for a standard
// install. PCM legs run at the SILK decoder's output rate.
func DefaultVoiceEncoders() VoiceEncoders {
	rate := strconv.Itoa(silkSampleRate)
	return VoiceEncoders{
		PCMToOgg:  []string{"ffmpeg", "-y", "-f", "s16le", "-ar", rate, "-ac", "1", "-i", "{in}", "-c:a", "libopus", "{out}"},
		OggToPCM:  []string{"ffmpeg", "-y", "-i", "{in}", "-f", "s16le", "-ar", rate, "-ac", "1", "{out}"},
		PCMToSilk: []string{"silk_codec", "-i", "{in}", "-o", "{out}", "-s", rate},
	}
}

// NewVoiceTranscoder creates a voice transcoder.
func NewVoiceTranscoder(tempDir string, enc VoiceEncoders, log *logger.Logger) *VoiceTranscoder {
	return &VoiceTranscoder{
		tempDir:      tempDir,
		pcmToOggArgv: enc.PCMToOgg,
		oggToPCMArgv: enc.OggToPCM,
		silkEncArgv:  enc.PCMToSilk,
		log:          log.Component("media"),
	}
}

// IsSilk reports whether the bytes are a SILK v3 voice stream.
func IsSilk(data []byte) bool {
	if bytes.HasPrefix(data, silkMagic) {
		return true
	}
	return len(data) > 1 && data[0] == 0x02 && bytes.HasPrefix(data[1:], silkMagic)
}

// ToTelegramVoice converts a QQ voice recording to OGG/Opus.
func (v *VoiceTranscoder) ToTelegramVoice(ctx context.Context, data []byte) ([]byte, error) {
	if IsSilk(data) {
		pcm, err := decodeSilk(data)
		if err != nil {
			return nil, fmt.Errorf("silk decode: %w", err)
		}
		return v.viaFiles(ctx, v.pcmToOggArgv, pcm, ".pcm", ".ogg")
	}
	// unknown container: hand the whole thing to the general transcoder
	return v.viaFiles(ctx, v.oggFromAnyArgv(), data, ".bin", ".ogg")
}

// ToQQVoice converts Telegram voice bytes to SILK for the gateway.
func (v *VoiceTranscoder) ToQQVoice(ctx context.Context, data []byte) ([]byte, error) {
	pcm, err := v.viaFiles(ctx, v.oggToPCMArgv, data, ".ogg", ".pcm")
	if err != nil {
		return nil, fmt.Errorf("voice to pcm: %w", err)
	}
	out, err := v.viaFiles(ctx, v.silkEncArgv, pcm, ".pcm", ".silk")
	if err != nil {
		return nil, fmt.Errorf("pcm to silk: %w", err)
	}
	return out, nil
}

// oggFromAnyArgv reuses the OGG encoder argv but lets the transcoder sniff
// the input container itself.
func (v *VoiceTranscoder) oggFromAnyArgv() []string {
	return []string{"ffmpeg", "-y", "-i", "{in}", "-c:a", "libopus", "{out}"}
}

// viaFiles round-trips bytes through the external encoder using temp files,
// which are removed on success and failure alike.
func (v *VoiceTranscoder) viaFiles(ctx context.Context, argv []string, data []byte, inExt, outExt string) ([]byte, error) {
	if err := os.MkdirAll(v.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	base := uuid.NewString()
	inPath := filepath.Join(v.tempDir, base+inExt)
	outPath := filepath.Join(v.tempDir, base+outExt)
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if err := os.WriteFile(inPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write encoder input: %w", err)
	}

	if err := runEncoder(ctx, argv, inPath, outPath); err != nil {
		return nil, err
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read encoder output: %w", err)
	}
	return out, nil
}

// decodeSilk is the in-process fast path for the known QQ codec.
func decodeSilk(data []byte) ([]byte, error) {
	if len(data) > 0 && data[0] == 0x02 {
		data = data[1:]
	}

	sd := silk.SilkInit()
	defer sd.Close()

	pcm := sd.Decode(data)
	if len(pcm) == 0 {
		return nil, fmt.Errorf("silk decoder returned no samples")
	}
	return pcm, nil
}
