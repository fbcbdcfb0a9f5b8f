package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

const resampleQuality = 4

// Decode turns an MP3 or WAV clip into interleaved signed 16-bit little-endian
// stereo PCM at sampleRate.
func Decode(data []byte, sampleRate int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	if isWAV(data) {
		streamer, format, err = wav.Decode(bytes.NewReader(data))
	} else {
		streamer, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	defer streamer.Close() //nolint:errcheck

	var s beep.Streamer = streamer
	if int(format.SampleRate) != sampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(sampleRate), streamer)
	}

	pcm, err := toPCM(s)
	if err != nil {
		return nil, err
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("failed to decode audio: %w", ErrEmptyAudio)
	}
	return pcm, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// toPCM drains s into 16-bit stereo frames.
func toPCM(s beep.Streamer) ([]byte, error) {
	var out bytes.Buffer
	samples := make([][2]float64, 512)
	frame := make([]byte, 4)

	for {
		n, ok := s.Stream(samples)
		for _, sample := range samples[:n] {
			binary.LittleEndian.PutUint16(frame[0:], uint16(toInt16(sample[0])))
			binary.LittleEndian.PutUint16(frame[2:], uint16(toInt16(sample[1])))
			out.Write(frame)
		}
		if !ok {
			break
		}
	}

	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to stream audio: %w", err)
	}
	return out.Bytes(), nil
}

func toInt16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(v * math.MaxInt16)
}
