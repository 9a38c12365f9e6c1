package indicator

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
	"github.com/youpy/go-wav"
)

const (
	sampleRate   = 44100
	channelCount = 2
)

// Player plays short cues on the default audio output.
type Player struct {
	ctx  *oto.Context
	cues map[Cue][]byte
}

// NewPlayer loads tick and shutter cues from dir and opens the audio device.
func NewPlayer(dir string) (*Player, error) {
	cues := make(map[Cue][]byte)
	for _, cue := range []Cue{CueTick, CueShutter} {
		pcm, err := loadCue(dir, cue.String())
		if err != nil {
			return nil, err
		}
		cues[cue] = pcm
	}

	// Initialize oto context once for the lifetime of the Player
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	}
	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	return &Player{ctx: otoCtx, cues: cues}, nil
}

func loadCue(dir, name string) ([]byte, error) {
	for _, ext := range []string{".wav", ".mp3"} {
		path := filepath.Join(dir, name+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return DecodeAudio(path, data)
	}
	return nil, fmt.Errorf("no %s.wav or %s.mp3 in %s", name, name, dir)
}

// Play blocks until the cue has finished.
func (p *Player) Play(cue Cue) {
	pcm, ok := p.cues[cue]
	if !ok || len(pcm) == 0 {
		return
	}
	player := p.ctx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()
	for player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	if err := player.Err(); err != nil {
		slog.Warn("Cue playback failed", "cue", cue, "error", err)
	}
}

// DecodeAudio turns a wav or mp3 file into 16-bit 44.1kHz stereo PCM.
func DecodeAudio(filename string, fileData []byte) ([]byte, error) {
	var pcmData []byte
	var rate, channels int

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		wavReader := wav.NewReader(bytes.NewReader(fileData))
		format, err := wavReader.Format()
		if err != nil {
			return nil, fmt.Errorf("failed to get wav format: %w", err)
		}
		wavReader = wav.NewReader(bytes.NewReader(fileData))
		pcmData, err = io.ReadAll(wavReader)
		if err != nil {
			return nil, fmt.Errorf("failed to decode wav data: %w", err)
		}
		rate = int(format.SampleRate)
		channels = int(format.NumChannels)

	case ".mp3":
		decoder, err := mp3.NewDecoder(bytes.NewReader(fileData))
		if err != nil {
			return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
		}
		pcmData, err = io.ReadAll(decoder)
		if err != nil {
			return nil, fmt.Errorf("failed to decode mp3 data: %w", err)
		}
		rate = decoder.SampleRate()
		channels = 2

	default:
		return nil, fmt.Errorf("unsupported audio file %s", filename)
	}

	if rate != sampleRate || channels != channelCount {
		pcmData = convertAudio(pcmData, rate, channels, sampleRate, channelCount)
	}
	return pcmData, nil
}

// convertAudio converts 16-bit PCM between sample rates and from mono to stereo.
func convertAudio(pcmData []byte, fromRate, fromChannels, toRate, toChannels int) []byte {
	sampleCount := len(pcmData) / 2
	samples := make([]int16, sampleCount)
	for i := 0; i < sampleCount; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcmData[i*2 : i*2+2]))
	}

	stereo := samples
	if fromChannels == 1 && toChannels == 2 {
		stereo = make([]int16, sampleCount*2)
		for i := 0; i < sampleCount; i++ {
			stereo[i*2] = samples[i]
			stereo[i*2+1] = samples[i]
		}
	}

	resampled := stereo
	if fromRate != toRate && len(stereo) > 0 {
		// Linear interpolation per channel so left and right stay separate.
		frames := len(stereo) / toChannels
		ratio := float64(toRate) / float64(fromRate)
		newFrames := int(float64(frames) * ratio)
		resampled = make([]int16, newFrames*toChannels)

		for i := 0; i < newFrames; i++ {
			srcPos := float64(i) / ratio
			srcIdx := int(srcPos)
			frac := srcPos - float64(srcIdx)
			for ch := 0; ch < toChannels; ch++ {
				if srcIdx >= frames-1 {
					resampled[i*toChannels+ch] = stereo[(frames-1)*toChannels+ch]
					continue
				}
				s1 := float64(stereo[srcIdx*toChannels+ch])
				s2 := float64(stereo[(srcIdx+1)*toChannels+ch])
				resampled[i*toChannels+ch] = int16(s1 + (s2-s1)*frac)
			}
		}
	}

	result := make([]byte, len(resampled)*2)
	for i, sample := range resampled {
		binary.LittleEndian.PutUint16(result[i*2:i*2+2], uint16(sample))
	}
	return result
}
