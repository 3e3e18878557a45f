package archive

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// CleanOldOutputs removes .mp4 files in dir last modified before
// now-retention, skipping any path in owned. It catches outputs whose job
// record is already gone, for example after a restart.
func CleanOldOutputs(dir string, retention time.Duration, owned map[string]bool, logger zerolog.Logger) (int, error) {
	pattern := filepath.Join(dir, "*.mp4")
	files, err := filepath.Glob(pattern)
	if err != nil {
		logger.Error().Err(err).Msg("output cleanup error")
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	cleaned := 0

	for _, f := range files {
		if owned[absPath(f)] {
			continue
		}
		info, err := os.Stat(f)
		if err != nil || info.IsDir() {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(f); err != nil {
			logger.Warn().Err(err).Str("file", f).Msg("failed to remove old output")
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		logger.Info().Int("count", cleaned).Msg("cleaned up old outputs")
	}
	return cleaned, nil
}
