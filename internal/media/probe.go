package media

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"

	"github.com/clipsight/clipsight-backend/internal/apperr"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

// VideoInfo is the container metadata recovered by ffprobe.
type VideoInfo struct {
	DurationMs int64
	Width      int
	Height     int
	FPS        float64
}

// ProbeService extracts container metadata and streams decoded frames at a
// fixed sampling rate. Frame decoding is a blocking single producer; the
// callback runs on the decoding goroutine.
type ProbeService interface {
	Probe(ctx context.Context, path string) (*VideoInfo, error)
	StreamFrames(ctx context.Context, path string, fps float64, fn FrameFunc) error
}

// FrameFunc receives each sampled frame with its timestamp. Returning an
// error stops the stream.
type FrameFunc func(timestampMs int64, frame image.Image) error

type probeService struct {
	log         *logger.Logger
	ffprobePath string
	ffmpegPath  string
}

func NewProbeService(log *logger.Logger) ProbeService {
	return &probeService{
		log:         log.With("service", "ProbeService"),
		ffprobePath: utils.GetEnv("FFPROBE_PATH", "ffprobe", log),
		ffmpegPath:  utils.GetEnv("FFMPEG_PATH", "ffmpeg", log),
	}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width,omitempty"`
		Height     int    `json:"height,omitempty"`
		RFrameRate string `json:"r_frame_rate,omitempty"`
		Duration   string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (s *probeService) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	out, err := exec.CommandContext(ctx, s.ffprobePath, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe failed for %s: %v", apperr.ErrProbe, path, err)
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(data []byte) (*VideoInfo, error) {
	var probed ffprobeOutput
	if err := json.Unmarshal(data, &probed); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe output: %v", apperr.ErrProbe, err)
	}

	info := &VideoInfo{}
	found := false
	for _, stream := range probed.Streams {
		if stream.CodecType != "video" {
			continue
		}
		found = true
		info.Width = stream.Width
		info.Height = stream.Height
		info.FPS = parseFrameRate(stream.RFrameRate)
		if info.DurationMs == 0 && stream.Duration != "" {
			if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
				info.DurationMs = int64(d * 1000)
			}
		}
		break
	}
	if !found {
		return nil, fmt.Errorf("%w: no video stream found", apperr.ErrProbe)
	}
	if probed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
			info.DurationMs = int64(d * 1000)
		}
	}
	return info, nil
}

// parseFrameRate handles fractional rates like "30000/1001".
func parseFrameRate(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if num, den, ok := strings.Cut(raw, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return f
}
