package services

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/vanpelt/purrlog/internal/logger"
)

// ErrRendererTimeout indicates the renderer exceeded its execution budget.
var ErrRendererTimeout = errors.New("renderer timed out")

// Renderer invokes the external rendering tool over the projects root.
// The tool is opaque: it is judged solely by exit code and captured
// stderr. The clear flag requests a full rebuild, which is required to
// work around the tool regenerating only missing per-shard artifacts
// when it believes a project aggregate already exists.
type Renderer interface {
	Render(ctx context.Context, dir string, clear bool) (stderr string, err error)
}

// SubprocessRenderer runs the rendering tool as a subprocess with a
// bounded timeout.
type SubprocessRenderer struct {
	command []string
	timeout time.Duration
}

// NewSubprocessRenderer creates a renderer for the given argv and timeout.
func NewSubprocessRenderer(command []string, timeout time.Duration) *SubprocessRenderer {
	return &SubprocessRenderer{command: command, timeout: timeout}
}

// Render runs the tool with dir as working directory. A non-zero exit or
// spawn failure is returned with captured stderr; a timeout is returned
// as ErrRendererTimeout.
func (r *SubprocessRenderer) Render(ctx context.Context, dir string, clear bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append([]string(nil), r.command[1:]...)
	if clear {
		args = append(args, "--clear")
	}

	cmd := exec.CommandContext(ctx, r.command[0], args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debugf("Invoking renderer in %s (clear=%v)", dir, clear)
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return stderr.String(), ErrRendererTimeout
	}
	return stderr.String(), err
}
