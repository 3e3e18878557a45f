package compress

import (
	"errors"
	"fmt"
)

// Step is one rung of the ladder. BitrateFactor and AudioFactor scale the
// bitrate budget computed from the target size and duration.
type Step struct {
	CRF           int     `yaml:"crf"`
	BitrateFactor float64 `yaml:"bitrate_factor"`
	AudioFactor   float64 `yaml:"audio_factor"`
	Preset        string  `yaml:"preset"`
}

// Ladder is tried in order; each step must be more aggressive than the one
// before it.
type Ladder []Step

// DefaultLadder trades quality and encoder effort for size in four steps.
var DefaultLadder = Ladder{
	{CRF: 28, BitrateFactor: 0.90, AudioFactor: 1.00, Preset: "medium"},
	{CRF: 32, BitrateFactor: 0.75, AudioFactor: 1.00, Preset: "fast"},
	{CRF: 35, BitrateFactor: 0.60, AudioFactor: 0.75, Preset: "veryfast"},
	{CRF: 38, BitrateFactor: 0.45, AudioFactor: 0.50, Preset: "ultrafast"},
}

const (
	MaxSteps = 6
	maxCRF   = 51
)

// presetRank orders x264 presets by encoder effort.
var presetRank = map[string]int{
	"ultrafast": 0,
	"superfast": 1,
	"veryfast":  2,
	"faster":    3,
	"fast":      4,
	"medium":    5,
	"slow":      6,
	"slower":    7,
	"veryslow":  8,
}

var ErrEmptyLadder = errors.New("compression ladder is empty")

// Validate checks that every step is strictly more aggressive than its
// predecessor: higher CRF, lower bitrate factor, no higher audio factor and
// no slower preset.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return ErrEmptyLadder
	}
	if len(l) > MaxSteps {
		return fmt.Errorf("compression ladder has %d steps, max %d", len(l), MaxSteps)
	}
	for i, s := range l {
		if s.CRF < 0 || s.CRF > maxCRF {
			return fmt.Errorf("step %d: crf %d out of range 0..%d", i+1, s.CRF, maxCRF)
		}
		if s.BitrateFactor <= 0 || s.BitrateFactor > 1 {
			return fmt.Errorf("step %d: bitrate factor %.2f out of range (0,1]", i+1, s.BitrateFactor)
		}
		if s.AudioFactor <= 0 || s.AudioFactor > 1 {
			return fmt.Errorf("step %d: audio factor %.2f out of range (0,1]", i+1, s.AudioFactor)
		}
		if _, ok := presetRank[s.Preset]; !ok {
			return fmt.Errorf("step %d: unknown preset %q", i+1, s.Preset)
		}
		if i == 0 {
			continue
		}
		prev := l[i-1]
		if s.CRF <= prev.CRF {
			return fmt.Errorf("step %d: crf %d not above previous %d", i+1, s.CRF, prev.CRF)
		}
		if s.BitrateFactor >= prev.BitrateFactor {
			return fmt.Errorf("step %d: bitrate factor %.2f not below previous %.2f", i+1, s.BitrateFactor, prev.BitrateFactor)
		}
		if s.AudioFactor > prev.AudioFactor {
			return fmt.Errorf("step %d: audio factor %.2f above previous %.2f", i+1, s.AudioFactor, prev.AudioFactor)
		}
		if presetRank[s.Preset] > presetRank[prev.Preset] {
			return fmt.Errorf("step %d: preset %s slower than previous %s", i+1, s.Preset, prev.Preset)
		}
	}
	return nil
}
