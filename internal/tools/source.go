package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mcplite/caphost/internal/pattern"
)

// CommandFrameSource captures frames by running an external command
// (fswebcam, libcamera-still and friends) that writes a JPEG to
// stdout. Quality and flash are passed through the environment as
// CAPTURE_QUALITY and CAPTURE_FLASH.
type CommandFrameSource struct {
	command string
	timeout time.Duration
}

// NewCommandFrameSource creates a source running the given shell-free
// command line (binary plus space-separated args).
func NewCommandFrameSource(command string, timeout time.Duration) *CommandFrameSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommandFrameSource{command: command, timeout: timeout}
}

func (s *CommandFrameSource) Capture(quality string, flash bool) ([]byte, error) {
	fields := strings.Fields(s.command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no capture command configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Env = append(os.Environ(),
		"CAPTURE_QUALITY="+quality,
		fmt.Sprintf("CAPTURE_FLASH=%t", flash),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("capture command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("capture command produced no output")
	}
	return stdout.Bytes(), nil
}

// Logger is the subset of the structured logger the log sink needs.
type Logger interface {
	Debug(msg string, args ...any)
}

// LogSink is a FrameSink for headless builds: frames are counted and
// sampled into the debug log instead of driving a strip.
type LogSink struct {
	pixels int
	logger Logger
	shown  int
}

// NewLogSink creates a sink with the given virtual strip length.
func NewLogSink(pixels int, logger Logger) *LogSink {
	return &LogSink{pixels: pixels, logger: logger}
}

func (s *LogSink) Pixels() int { return s.pixels }

func (s *LogSink) Show(frame []pattern.HSV) {
	s.shown++
	if s.logger != nil && len(frame) > 0 {
		s.logger.Debug("pattern frame",
			"pixels", len(frame),
			"h0", frame[0].H,
			"v0", frame[0].V,
		)
	}
}
