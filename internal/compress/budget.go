package compress

import (
	"errors"
	"fmt"
	"math"
	"os"
)

const (
	videoShare = 0.85
	audioShare = 0.15

	MinVideoKbps = 300
	MinAudioKbps = 32
	MaxAudioKbps = 128

	bytesPerMB = 1024 * 1024
)

// Bitrates is a video/audio bitrate pair in kbps.
type Bitrates struct {
	VideoKbps int
	AudioKbps int
}

// Budget derives the bitrate that fits targetMB over durationSec, split
// 85/15 between video and audio and floored at the minimum viable rates.
func Budget(targetMB, durationSec float64) (Bitrates, error) {
	if durationSec <= 0 || math.IsNaN(durationSec) || math.IsInf(durationSec, 0) {
		return Bitrates{}, fmt.Errorf("invalid duration %v", durationSec)
	}
	if targetMB <= 0 {
		return Bitrates{}, errors.New("target size must be positive")
	}
	total := targetMB * 8 * 1024 / durationSec
	return Bitrates{
		VideoKbps: max(int(total*videoShare), MinVideoKbps),
		AudioKbps: min(max(int(total*audioShare), MinAudioKbps), MaxAudioKbps),
	}, nil
}

// Scale applies a ladder step to the budget, keeping the floors.
func (b Bitrates) Scale(s Step) Bitrates {
	return Bitrates{
		VideoKbps: max(int(float64(b.VideoKbps)*s.BitrateFactor), MinVideoKbps),
		AudioKbps: max(int(float64(b.AudioKbps)*s.AudioFactor), MinAudioKbps),
	}
}

// Ratio is the size reduction in percent. Growth reports as 0.
func Ratio(originalMB, finalMB float64) float64 {
	if originalMB <= 0 || finalMB >= originalMB {
		return 0
	}
	return (originalMB - finalMB) / originalMB * 100
}

func FileSizeMB(path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return float64(info.Size()) / bytesPerMB, nil
}
