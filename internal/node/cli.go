package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Runner executes an external command and returns its output streams.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// CLIOptions parameterise the lavad querier.
type CLIOptions struct {
	Binary     string
	NodeURL    string
	Timeout    time.Duration
	MaxRetries int
	RPS        float64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// CLI issues queries as `lavad q <words> <args> [--height H] --node URL --output json`.
type CLI struct {
	opts    CLIOptions
	runner  Runner
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewCLI constructs a querier. A nil runner means ExecRunner.
func NewCLI(opts CLIOptions, runner Runner, logger zerolog.Logger) *CLI {
	if opts.Binary == "" {
		opts.Binary = "lavad"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	if runner == nil {
		runner = ExecRunner{}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}

	return &CLI{
		opts:    opts,
		runner:  runner,
		limiter: limiter,
		logger:  logger.With().Str("component", "node_cli").Logger(),
	}
}

// Args renders the command line for req, without the binary name.
func (c *CLI) Args(req Request) ([]string, error) {
	words, ok := commandWords[req.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	args := make([]string, 0, len(words)+len(req.Args)+7)
	args = append(args, "q")
	args = append(args, words...)
	args = append(args, req.Args...)
	if req.Height > 0 {
		args = append(args, "--height", strconv.FormatInt(req.Height, 10))
	}
	args = append(args, "--node", c.opts.NodeURL, "--output", "json")
	return args, nil
}

// Query runs req, retrying transient failures with exponential backoff.
func (c *CLI) Query(ctx context.Context, req Request) (json.RawMessage, error) {
	args, err := c.Args(req)
	if err != nil {
		return nil, err
	}

	delay := c.opts.BaseDelay
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug().Err(lastErr).Str("kind", string(req.Kind)).Int("attempt", attempt).Dur("delay", delay).Msg("retrying node query")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.opts.MaxDelay {
				delay = c.opts.MaxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		payload, err := c.run(ctx, args)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !Retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%s %v: %w", req.Kind, req.Args, lastErr)
}

func (c *CLI) run(ctx context.Context, args []string) (json.RawMessage, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	stdout, stderr, runErr := c.runner.Run(runCtx, c.opts.Binary, args...)
	if kind := classify(string(stderr)); kind != nil {
		return nil, fmt.Errorf("%w: %s", kind, firstLine(string(stderr)))
	}
	if len(bytes.TrimSpace(stderr)) > 0 {
		c.logger.Debug().Str("stderr", firstLine(string(stderr))).Msg("node stderr")
	}
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("node query timed out after %s", c.opts.Timeout)
		}
		if msg := firstLine(string(stderr)); msg != "" {
			return nil, fmt.Errorf("run %s: %w: %s", c.opts.Binary, runErr, msg)
		}
		return nil, fmt.Errorf("run %s: %w", c.opts.Binary, runErr)
	}

	stdout = bytes.TrimSpace(stdout)
	if len(stdout) == 0 {
		return nil, ErrEmpty
	}
	if !json.Valid(stdout) {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, firstLine(string(stdout)))
	}
	return json.RawMessage(stdout), nil
}

var _ Querier = (*CLI)(nil)
