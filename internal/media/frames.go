package media

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"

	"github.com/clipsight/clipsight-backend/internal/apperr"
)

func (s *probeService) StreamFrames(ctx context.Context, path string, fps float64, fn FrameFunc) error {
	if fps <= 0 {
		fps = 1.0
	}
	info, err := s.Probe(ctx, path)
	if err != nil {
		return err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return fmt.Errorf("%w: video stream has no dimensions", apperr.ErrProbe)
	}

	args := []string{
		"-i", path,
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: ffmpeg stdout pipe: %v", apperr.ErrProbe, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %v", apperr.ErrProbe, err)
	}

	frameSize := info.Width * info.Height * 3
	buf := make([]byte, frameSize)
	frameIdx := int64(0)
	var cbErr error
	for {
		if _, err := io.ReadFull(stdout, buf); err != nil {
			// Clean EOF ends the stream; a short read means a truncated
			// trailing frame, which is also treated as end of stream.
			break
		}
		timestampMs := int64(float64(frameIdx) / fps * 1000)
		frame := rgb24ToImage(buf, info.Width, info.Height)
		if cbErr = fn(timestampMs, frame); cbErr != nil {
			break
		}
		frameIdx++
	}

	if cbErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return cbErr
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%w: ffmpeg frame extraction: %v", apperr.ErrProbe, err)
	}
	return nil
}

// rgb24ToImage expands packed RGB bytes into an NRGBA image. The source
// buffer is reused between frames, so pixels are copied out.
func rgb24ToImage(raw []byte, width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		img.Pix[i*4+0] = raw[i*3+0]
		img.Pix[i*4+1] = raw[i*3+1]
		img.Pix[i*4+2] = raw[i*3+2]
		img.Pix[i*4+3] = 0xff
	}
	return img
}
