package compress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yokitheyo/vidjoin/internal/ffmpeg"
)

// fakeTranscoder writes an output whose size (in MB) is looked up by CRF.
// A missing entry makes the attempt fail.
type fakeTranscoder struct {
	sizes map[int]float64
	calls []ffmpeg.EncodeParams
}

func (f *fakeTranscoder) Transcode(_ context.Context, _, output string, p ffmpeg.EncodeParams) error {
	f.calls = append(f.calls, p)
	mb, ok := f.sizes[p.CRF]
	if !ok {
		return &ffmpeg.TimeoutError{Op: "transcode"}
	}
	return writeSized(output, mb)
}

type fakeProber struct {
	duration float64
	err      error
}

func (f fakeProber) Duration(context.Context, string) (float64, error) {
	return f.duration, f.err
}

func writeSized(path string, mb float64) error {
	return os.WriteFile(path, make([]byte, int(mb*bytesPerMB)), 0o644)
}

func newInput(t *testing.T, mb float64) (string, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.mp4")
	if err := writeSized(in, mb); err != nil {
		t.Fatal(err)
	}
	return in, dir
}

func newSearcher(t *testing.T, tc Transcoder, p DurationProber) *Searcher {
	t.Helper()
	s, err := NewSearcher(tc, p, DefaultLadder, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func attemptFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "attempt-*.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestDefaultLadderIsValid(t *testing.T) {
	if err := DefaultLadder.Validate(); err != nil {
		t.Fatalf("DefaultLadder invalid: %v", err)
	}
	if n := len(DefaultLadder); n < 3 || n > 4 {
		t.Errorf("DefaultLadder has %d steps, want 3-4", n)
	}
}

func TestLadderValidate(t *testing.T) {
	tests := []struct {
		name   string
		ladder Ladder
		ok     bool
	}{
		{"empty", Ladder{}, false},
		{"single", Ladder{{CRF: 30, BitrateFactor: 1, AudioFactor: 1, Preset: "fast"}}, true},
		{"crf not increasing", Ladder{
			{CRF: 30, BitrateFactor: 0.9, AudioFactor: 1, Preset: "fast"},
			{CRF: 30, BitrateFactor: 0.8, AudioFactor: 1, Preset: "fast"},
		}, false},
		{"bitrate not decreasing", Ladder{
			{CRF: 28, BitrateFactor: 0.8, AudioFactor: 1, Preset: "fast"},
			{CRF: 30, BitrateFactor: 0.8, AudioFactor: 1, Preset: "fast"},
		}, false},
		{"slower preset later", Ladder{
			{CRF: 28, BitrateFactor: 0.9, AudioFactor: 1, Preset: "fast"},
			{CRF: 30, BitrateFactor: 0.8, AudioFactor: 1, Preset: "slow"},
		}, false},
		{"unknown preset", Ladder{{CRF: 28, BitrateFactor: 0.9, AudioFactor: 1, Preset: "warp"}}, false},
		{"crf out of range", Ladder{{CRF: 60, BitrateFactor: 0.9, AudioFactor: 1, Preset: "fast"}}, false},
		{"audio grows", Ladder{
			{CRF: 28, BitrateFactor: 0.9, AudioFactor: 0.5, Preset: "fast"},
			{CRF: 30, BitrateFactor: 0.8, AudioFactor: 0.7, Preset: "fast"},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ladder.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestBudget(t *testing.T) {
	tests := []struct {
		name      string
		targetMB  float64
		duration  float64
		wantVideo int
		wantAudio int
	}{
		// 100 MB over 600 s = 1365 kbps total.
		{"typical", 100, 600, 1160, 128},
		// 100 MB over 8000 s = 102 kbps total, both floors kick in.
		{"floors", 100, 8000, MinVideoKbps, MinAudioKbps},
		// 10 MB over 100 s = 819 kbps total.
		{"short", 10, 100, 696, 122},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Budget(tt.targetMB, tt.duration)
			if err != nil {
				t.Fatal(err)
			}
			if b.VideoKbps != tt.wantVideo || b.AudioKbps != tt.wantAudio {
				t.Errorf("Budget = %+v, want video=%d audio=%d", b, tt.wantVideo, tt.wantAudio)
			}
		})
	}
}

func TestBudgetRejectsBadInput(t *testing.T) {
	if _, err := Budget(100, 0); err == nil {
		t.Error("expected error for zero duration")
	}
	if _, err := Budget(0, 10); err == nil {
		t.Error("expected error for zero target")
	}
}

func TestScaleKeepsFloors(t *testing.T) {
	b := Bitrates{VideoKbps: 400, AudioKbps: 40}.Scale(Step{BitrateFactor: 0.5, AudioFactor: 0.5})
	if b.VideoKbps != MinVideoKbps || b.AudioKbps != MinAudioKbps {
		t.Errorf("Scale = %+v, want floors", b)
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		orig, final, want float64
	}{
		{200, 100, 50},
		{100, 100, 0},
		{100, 120, 0},
		{0, 10, 0},
	}
	for _, tt := range tests {
		if got := Ratio(tt.orig, tt.final); got != tt.want {
			t.Errorf("Ratio(%v, %v) = %v, want %v", tt.orig, tt.final, got, tt.want)
		}
	}
}

func TestCompressNoopWhenUnderTarget(t *testing.T) {
	in, dir := newInput(t, 0.5)
	tc := &fakeTranscoder{}
	s := newSearcher(t, tc, fakeProber{duration: 10})

	res, err := s.Compress(context.Background(), in, dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || !res.TargetMet || res.Path != in || res.Attempts != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(tc.calls) != 0 {
		t.Errorf("transcoder called %d times", len(tc.calls))
	}
}

func TestCompressPromotesFirstFit(t *testing.T) {
	in, dir := newInput(t, 2)
	tc := &fakeTranscoder{sizes: map[int]float64{28: 1.5, 32: 0.9, 35: 0.5, 38: 0.3}}
	s := newSearcher(t, tc, fakeProber{duration: 10})

	res, err := s.Compress(context.Background(), in, dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.TargetMet || res.SizeMB > 1 {
		t.Errorf("expected fitting result, got %+v", res)
	}
	if res.Attempts != 2 || len(tc.calls) != 2 {
		t.Errorf("expected search to stop at step 2, attempts=%d calls=%d", res.Attempts, len(tc.calls))
	}
	files := attemptFiles(t, dir)
	if len(files) != 1 || files[0] != res.Path {
		t.Errorf("only the promoted attempt should remain, got %v", files)
	}
}

func TestCompressLadderGetsMoreAggressive(t *testing.T) {
	in, dir := newInput(t, 2)
	tc := &fakeTranscoder{sizes: map[int]float64{28: 1.9, 32: 1.8, 35: 1.7, 38: 1.6}}
	s := newSearcher(t, tc, fakeProber{duration: 10})

	if _, err := s.Compress(context.Background(), in, dir, 1); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(tc.calls); i++ {
		prev, cur := tc.calls[i-1], tc.calls[i]
		if cur.CRF <= prev.CRF {
			t.Errorf("call %d: crf %d not above %d", i, cur.CRF, prev.CRF)
		}
		if cur.VideoKbps > prev.VideoKbps {
			t.Errorf("call %d: video bitrate grew %d -> %d", i, prev.VideoKbps, cur.VideoKbps)
		}
	}
}

func TestCompressBestEffortReturnsSmallest(t *testing.T) {
	in, dir := newInput(t, 2)
	// Step 3 is the smallest even though step 4 runs after it.
	tc := &fakeTranscoder{sizes: map[int]float64{28: 1.8, 32: 1.5, 35: 1.2, 38: 1.4}}
	s := newSearcher(t, tc, fakeProber{duration: 10})

	res, err := s.Compress(context.Background(), in, dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.TargetMet {
		t.Error("target cannot be met")
	}
	if res.SizeMB < 1.19 || res.SizeMB > 1.21 {
		t.Errorf("expected smallest attempt (1.2 MB), got %.3f", res.SizeMB)
	}
	for _, a := range res.Tried {
		if a.Err == nil && a.SizeMB < res.SizeMB {
			t.Errorf("returned %.2f but attempt %d achieved %.2f", res.SizeMB, a.Step, a.SizeMB)
		}
	}
	files := attemptFiles(t, dir)
	if len(files) != 1 || files[0] != res.Path {
		t.Errorf("only the best attempt should remain, got %v", files)
	}
}

func TestCompressSkipsFailedAttempts(t *testing.T) {
	in, dir := newInput(t, 2)
	// Steps 1 and 2 time out.
	tc := &fakeTranscoder{sizes: map[int]float64{35: 0.8, 38: 0.4}}
	s := newSearcher(t, tc, fakeProber{duration: 10})

	res, err := s.Compress(context.Background(), in, dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.TargetMet || res.Attempts != 3 {
		t.Errorf("expected fit on step 3, got %+v", res)
	}
	var ae *AttemptError
	if !errors.As(res.Tried[0].Err, &ae) || ae.Step != 1 {
		t.Errorf("first attempt should carry an AttemptError, got %v", res.Tried[0].Err)
	}
}

func TestCompressExhausted(t *testing.T) {
	in, dir := newInput(t, 2)
	s := newSearcher(t, &fakeTranscoder{}, fakeProber{duration: 10})

	_, err := s.Compress(context.Background(), in, dir, 1)
	var ee *ExhaustedError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExhaustedError, got %v", err)
	}
	if len(ee.Attempts) != len(DefaultLadder) {
		t.Errorf("expected %d attempt errors, got %d", len(DefaultLadder), len(ee.Attempts))
	}
	var te *ffmpeg.TimeoutError
	if !errors.As(err, &te) {
		t.Error("attempt timeout should be reachable through the exhausted error")
	}
	if files := attemptFiles(t, dir); len(files) != 0 {
		t.Errorf("no attempt files should remain, got %v", files)
	}
}

func TestCompressWithoutDuration(t *testing.T) {
	in, dir := newInput(t, 2)
	tc := &fakeTranscoder{sizes: map[int]float64{28: 0.5}}
	s := newSearcher(t, tc, fakeProber{err: errors.New("no duration")})

	_, err := s.Compress(context.Background(), in, dir, 1)
	if !errors.Is(err, ErrNoDuration) {
		t.Fatalf("expected ErrNoDuration, got %v", err)
	}
	if len(tc.calls) != 0 {
		t.Error("no encode should run without a duration")
	}
}

func TestCompressHonoursCancellation(t *testing.T) {
	in, dir := newInput(t, 2)
	s := newSearcher(t, &fakeTranscoder{sizes: map[int]float64{28: 0.5}}, fakeProber{duration: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Compress(ctx, in, dir, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewSearcherRejectsBadLadder(t *testing.T) {
	_, err := NewSearcher(&fakeTranscoder{}, fakeProber{}, Ladder{}, zerolog.Nop())
	if !errors.Is(err, ErrEmptyLadder) {
		t.Errorf("expected ErrEmptyLadder, got %v", err)
	}
}
