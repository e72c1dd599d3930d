package broker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ShellResult is the outcome of a RunShell invocation.
type ShellResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ShellOptions configures one RunShell call.
type ShellOptions struct {
	Timeout time.Duration
	Input   string
	Dir     string
}

const heartbeatInterval = 5 * time.Second

// Broker is the supervisor's single chokepoint for shelling out, whether
// to a short git/host probe or the LLM backend CLI.
type Broker struct {
	log      *slog.Logger
	llmSlots chan struct{}
	preempt  chan struct{}
}

// New constructs a Broker. llmConcurrency is the InvokeLLM semaphore
// capacity (spec default: 2).
func New(log *slog.Logger, llmConcurrency int) *Broker {
	if llmConcurrency <= 0 {
		llmConcurrency = 2
	}
	return &Broker{
		log:      log,
		llmSlots: make(chan struct{}, llmConcurrency),
		preempt:  make(chan struct{}, 1),
	}
}

// RunShell runs cmd (a full "sh -c"-style command line already built via
// ShellEscape/BuildShellCommand) under a process group so a timeout kills
// the whole tree, not just the shell.
func (b *Broker) RunShell(ctx context.Context, cmd string, opts ShellOptions) (ShellResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, "sh", "-c", cmd)
	if opts.Dir != "" {
		c.Dir = opts.Dir
	}
	if opts.Input != "" {
		c.Stdin = strings.NewReader(opts.Input)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}

	if err := c.Start(); err != nil {
		return ShellResult{}, &Error{Kind: KindTransport, Command: cmd, Err: fmt.Errorf("start: %w", err)}
	}

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	for {
		select {
		case err := <-done:
			res := ShellResult{Stdout: stdout.String(), Stderr: stderr.String()}
			if err == nil {
				res.ExitCode = 0
				return res, nil
			}
			if runCtx.Err() == context.DeadlineExceeded {
				killProcessGroup(c)
				return res, &Error{Kind: KindTimeout, Command: cmd, Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
			}
			var exitCode int
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
				res.ExitCode = exitCode
				return res, &Error{Kind: KindExitNonZero, Command: cmd, ExitCode: exitCode, Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
			}
			return res, &Error{Kind: KindTransport, Command: cmd, Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
		case <-time.After(heartbeatInterval):
			if b.log != nil {
				b.log.Debug("shell command still running", "cmd", truncate(cmd, 120))
			}
		}
	}
}

func killProcessGroup(c *exec.Cmd) {
	if c.Process == nil {
		return
	}
	syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
