package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/types"
)

// Tool is the set of local media operations the pipeline needs.
type Tool interface {
	ExtractLastFrame(ctx context.Context, video, frame string) error
	ConcatCopy(ctx context.Context, listFile, out string) error
	Mux(ctx context.Context, video, audio, out string) error
}

// ToolFailure is returned when the media tool exits unsuccessfully.
type ToolFailure struct {
	Op     string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolFailure) Error() string {
	return fmt.Sprintf("ffmpeg %s: %v: %s", e.Op, e.Err, lastLines(e.Stderr, 3))
}

func (e *ToolFailure) Unwrap() error { return e.Err }

// Is makes every ToolFailure match types.ErrMediaTool.
func (e *ToolFailure) Is(target error) bool { return target == types.ErrMediaTool }

// FFmpeg runs the ffmpeg binary. Stderr is captured for diagnostics.
type FFmpeg struct {
	Binary string
	log    *slog.Logger
	run    func(ctx context.Context, name string, args []string) (string, error)
}

// New creates an FFmpeg tool. An empty binary means "ffmpeg" from PATH.
func New(binary string, logger *slog.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{
		Binary: binary,
		log:    logging.OrDiscard(logger).With("component", "ffmpeg"),
		run:    execute,
	}
}

// ExtractLastFrame writes the final frame of video to frame.
func (f *FFmpeg) ExtractLastFrame(ctx context.Context, video, frame string) error {
	return f.exec(ctx, "extract-frame",
		"-y", "-sseof", "-1",
		"-i", video,
		"-update", "1",
		"-q:v", "2",
		frame,
	)
}

// ConcatCopy joins the files named in listFile without re-encoding.
func (f *FFmpeg) ConcatCopy(ctx context.Context, listFile, out string) error {
	return f.exec(ctx, "concat",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		out,
	)
}

// Mux combines the video stream of video with the audio stream of audio.
// Source audio tracks in video are dropped and the output stops at the
// shorter input.
func (f *FFmpeg) Mux(ctx context.Context, video, audio, out string) error {
	return f.exec(ctx, "mux",
		"-y",
		"-i", video,
		"-i", audio,
		"-c:v", "copy",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
		out,
	)
}

func (f *FFmpeg) exec(ctx context.Context, op string, args ...string) error {
	f.log.Debug("running ffmpeg", "op", op, "args", strings.Join(args, " "))
	stderr, err := f.run(ctx, f.Binary, args)
	if err != nil {
		return &ToolFailure{Op: op, Args: args, Stderr: stderr, Err: err}
	}
	return nil
}

func execute(ctx context.Context, name string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// WriteConcatList writes an ffmpeg concat demuxer list naming files in order.
func WriteConcatList(path string, files []string) error {
	var sb strings.Builder
	for _, f := range files {
		// Single quotes close, escape and reopen inside a quoted path.
		sb.WriteString("file '" + strings.ReplaceAll(f, "'", `'\''`) + "'\n")
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
