package media

import (
	"errors"
	"math"
	"testing"

	"github.com/clipsight/clipsight-backend/internal/apperr"
)

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{
		"streams": [
			{"codec_type": "audio"},
			{"codec_type": "video", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001", "duration": "9.5"}
		],
		"format": {"duration": "10.5"}
	}`)
	info, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if info.Width != 1920 || info.Height != 1080 {
		t.Fatalf("unexpected dimensions %dx%d", info.Width, info.Height)
	}
	// Container-level duration wins over the stream's.
	if info.DurationMs != 10500 {
		t.Fatalf("expected duration 10500ms, got %d", info.DurationMs)
	}
	if math.Abs(info.FPS-29.97) > 0.01 {
		t.Fatalf("expected ~29.97 fps, got %v", info.FPS)
	}
}

func TestParseProbeOutputStreamDurationFallback(t *testing.T) {
	data := []byte(`{
		"streams": [{"codec_type": "video", "width": 640, "height": 480, "r_frame_rate": "25/1", "duration": "4.2"}],
		"format": {}
	}`)
	info, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if info.DurationMs != 4200 {
		t.Fatalf("expected stream duration fallback 4200ms, got %d", info.DurationMs)
	}
}

func TestParseProbeOutputNoVideoStream(t *testing.T) {
	data := []byte(`{"streams": [{"codec_type": "audio"}], "format": {"duration": "3.0"}}`)
	_, err := parseProbeOutput(data)
	if !errors.Is(err, apperr.ErrProbe) {
		t.Fatalf("expected ErrProbe for audio-only input, got %v", err)
	}
}

func TestParseProbeOutputInvalidJSON(t *testing.T) {
	_, err := parseProbeOutput([]byte("not json"))
	if !errors.Is(err, apperr.ErrProbe) {
		t.Fatalf("expected ErrProbe for garbage input, got %v", err)
	}
}

func TestParseFrameRate(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"", 0},
		{"0/0", 0},
		{"abc", 0},
		{"abc/def", 0},
	}
	for _, tc := range cases {
		got := parseFrameRate(tc.raw)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("parseFrameRate(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
