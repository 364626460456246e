// Package command runs the external tools the node delegates to, such as
// the WiFi association and RTC wake commands. Commands are configured as
// templates with {name} placeholders.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
)

var ErrTimeout = errors.New("command timed out")

// Template is a split command line. Placeholders are substituted per
// argument after splitting, so values containing spaces or quotes stay one
// argument.
type Template struct {
	raw  string
	args []string
}

func Parse(s string) (Template, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return Template{}, fmt.Errorf("parse command %q: %w", s, err)
	}
	if len(args) == 0 {
		return Template{}, fmt.Errorf("parse command %q: empty", s)
	}
	return Template{raw: s, args: args}, nil
}

func (t Template) String() string { return t.raw }

// Render substitutes vars into every argument.
func (t Template) Render(vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	out := make([]string, len(t.args))
	for i, a := range t.args {
		out[i] = r.Replace(a)
	}
	return out
}

// Result of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes argv. Tests substitute it.
type Runner func(ctx context.Context, argv []string) (Result, error)

// Exec runs argv with a timeout. A non-zero exit status is an error that
// carries the command's stderr.
func Exec(timeout time.Duration) Runner {
	return func(ctx context.Context, argv []string) (Result, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		// children that inherit the pipes must not hold Run past the timeout
		cmd.WaitDelay = 500 * time.Millisecond
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		res := Result{
			Stdout: stdout.String(),
			Stderr: strings.TrimSpace(stderr.String()),
		}

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.ExitCode = -1
			return res, fmt.Errorf("%s: %w after %v", argv[0], ErrTimeout, timeout)
		}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitCode()
				return res, fmt.Errorf("%s: exit status %d: %s", argv[0], res.ExitCode, res.Stderr)
			}
			res.ExitCode = -1
			return res, fmt.Errorf("%s: %w", argv[0], err)
		}
		return res, nil
	}
}
