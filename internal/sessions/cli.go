package sessions

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"clawmon/internal/logging"
	"clawmon/internal/monitor"
)

// CLI shells out to the runtime's management tool for session metadata. The
// tool prints warning banners before its JSON on some paths, so output is
// parsed from the first '{' onward. Any failure degrades to an empty result
// for that poll cycle.
type CLI struct {
	command string
	logger  logging.Logger
	run     func(name string, args ...string) ([]byte, error)
}

// CLIOption customizes the CLI client.
type CLIOption func(*CLI)

// WithCLILogger sets the logger for CLI diagnostics.
func WithCLILogger(logger logging.Logger) CLIOption {
	return func(c *CLI) {
		c.logger = logging.OrNop(logger)
	}
}

// WithCommandRunner replaces the subprocess runner, for tests.
func WithCommandRunner(run func(name string, args ...string) ([]byte, error)) CLIOption {
	return func(c *CLI) {
		if run != nil {
			c.run = run
		}
	}
}

// NewCLI constructs a client for the named management command.
func NewCLI(command string, opts ...CLIOption) *CLI {
	c := &CLI{
		command: command,
		logger:  logging.Nop(),
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cliSession is the CLI's own wire shape; field names differ from ours.
type cliSession struct {
	Key           string `json:"key"`
	SessionID     string `json:"sessionId"`
	UpdatedAt     int64  `json:"updatedAt"`
	Kind          string `json:"kind"`
	Model         string `json:"model"`
	ModelProvider string `json:"modelProvider"`
	Channel       string `json:"channel"`
	Label         string `json:"label"`
	InputTokens   int64  `json:"inputTokens"`
	OutputTokens  int64  `json:"outputTokens"`
	TotalTokens   int64  `json:"totalTokens"`
	ContextTokens int64  `json:"contextTokens"`
	SystemSent    bool   `json:"systemSent"`
	AbortedLast   bool   `json:"abortedLastRun"`
}

// Sessions lists the runtime's sessions. Returns an empty slice on any
// subprocess or decode failure; CLI polling must never crash the loop.
func (c *CLI) Sessions() []monitor.SessionEntry {
	payload, err := c.output("sessions", "--json")
	if err != nil {
		c.logger.Warn("session listing failed: %v", err)
		return nil
	}

	var decoded struct {
		Sessions []cliSession `json:"sessions"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		c.logger.Warn("session listing returned malformed JSON: %v", err)
		return nil
	}

	out := make([]monitor.SessionEntry, 0, len(decoded.Sessions))
	for _, s := range decoded.Sessions {
		if s.Key == "" {
			continue
		}
		out = append(out, monitor.SessionEntry{
			SessionKey:    s.Key,
			SessionID:     s.SessionID,
			UpdatedAt:     s.UpdatedAt,
			ChatType:      s.Kind,
			Model:         s.Model,
			ModelProvider: s.ModelProvider,
			Channel:       s.Channel,
			Label:         s.Label,
			InputTokens:   s.InputTokens,
			OutputTokens:  s.OutputTokens,
			TotalTokens:   s.TotalTokens,
			ContextTokens: s.ContextTokens,
			SystemSent:    s.SystemSent,
			AbortedLast:   s.AbortedLast,
		})
	}
	return out
}

// Status fetches the runtime gateway's status document, or nil on failure.
func (c *CLI) Status() map[string]any {
	return c.gatewayCall("status")
}

// Health fetches the runtime gateway's health document, or nil on failure.
func (c *CLI) Health() map[string]any {
	return c.gatewayCall("health")
}

func (c *CLI) gatewayCall(verb string) map[string]any {
	payload, err := c.output("gateway", "call", verb, "--json")
	if err != nil {
		c.logger.Warn("gateway %s failed: %v", verb, err)
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		c.logger.Warn("gateway %s returned malformed JSON: %v", verb, err)
		return nil
	}
	return decoded
}

// output runs the command and strips any leading non-JSON noise.
func (c *CLI) output(args ...string) ([]byte, error) {
	raw, err := c.run(c.command, args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.command, strings.Join(args, " "), err)
	}
	start := strings.IndexByte(string(raw), '{')
	if start < 0 {
		return nil, fmt.Errorf("%s %s: no JSON in output", c.command, strings.Join(args, " "))
	}
	return raw[start:], nil
}
