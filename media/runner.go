package media

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
)

// Runner executes an external tool and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools with os/exec. Cancelling ctx kills the process.
type ExecRunner struct {
	Logger *zap.SugaredLogger
}

// stderrTail bounds how much of a failing tool's stderr lands in errors.
const stderrTail = 2048

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	logger.MediaDebugw(r.Logger, "exec", "command", shellquote.Join(append([]string{name}, args...)...))

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "%s interrupted", name)
		}
		tail := strings.TrimSpace(stderr.String())
		if len(tail) > stderrTail {
			tail = tail[len(tail)-stderrTail:]
		}
		return nil, errors.WithDetail(errors.Wrapf(err, "%s failed", name), tail)
	}
	return stdout.Bytes(), nil
}

// SplitArgs parses a shell-quoted argument string from configuration.
func SplitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	args, err := shellquote.Split(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid argument list %q", s)
	}
	return args, nil
}
