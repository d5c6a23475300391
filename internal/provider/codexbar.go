package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/zsprackett/tokengauge/internal/usage"
)

var authPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)unauthori[sz]ed`),
	regexp.MustCompile(`\b40[13]\b`),
	regexp.MustCompile(`(?i)expired`),
	regexp.MustCompile(`(?i)\b(re-?)?log ?in\b`),
	regexp.MustCompile(`(?i)oauth`),
	regexp.MustCompile(`(?i)credential`),
	regexp.MustCompile(`(?i)api[ _-]?key`),
	regexp.MustCompile(`(?i)\btoken\b`),
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Codexbar fetches usage by running the codexbar CLI once per provider.
type Codexbar struct {
	bin     string
	timeout time.Duration
	logger  *slog.Logger
}

func NewCodexbar(bin string, timeout time.Duration, logger *slog.Logger) *Codexbar {
	return &Codexbar{bin: bin, timeout: timeout, logger: logger}
}

func (c *Codexbar) Fetch(ctx context.Context, cfg Config) (usage.Snapshot, error) {
	if !cfg.Enabled {
		return usage.Snapshot{FetchStatus: usage.StatusNotConfigured}, newError(cfg.ID, ErrNotConfigured, nil)
	}

	source := cfg.Source
	if source == "" {
		source = "oauth"
	}
	env := os.Environ()
	if source == "api" {
		name, key := apiKey(cfg)
		if key == "" {
			return usage.Snapshot{}, newError(cfg.ID, ErrAuthExpired, fmt.Errorf("no API key (set api_key or %s)", name))
		}
		env = append(env, name+"="+key)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{"usage", "--format", "json", "--json-only", "--provider", string(cfg.ID), "--source", source}
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Env = env
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	c.logger.Debug("codexbar: fetch finished",
		"provider", cfg.ID,
		"elapsed", time.Since(start),
		"err", runErr,
	)

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return usage.Snapshot{}, newError(cfg.ID, ErrNetworkFailure, fmt.Errorf("%s timed out after %s", c.bin, c.timeout))
		}
		return usage.Snapshot{}, newError(cfg.ID, ErrNetworkFailure, ctx.Err())
	}

	payloads, parseErr := parsePayloads(stdout.Bytes())
	if runErr != nil {
		// codexbar may still print a payload describing the failure.
		if parseErr == nil {
			if p, ok := pick(payloads, cfg.ID); ok && p.Error != nil {
				return usage.Snapshot{}, p.Error.classify(cfg.ID)
			}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			detail := firstNonEmpty(stderr.String(), stdout.String(), "no error output")
			if matchAny(authPatterns, detail) {
				return usage.Snapshot{}, newError(cfg.ID, ErrAuthExpired, errors.New(detail))
			}
			return usage.Snapshot{}, newError(cfg.ID, ErrNetworkFailure, fmt.Errorf("%s exited %d: %s", c.bin, exitErr.ExitCode(), detail))
		}
		return usage.Snapshot{}, newError(cfg.ID, ErrNetworkFailure, fmt.Errorf("run %s: %w", c.bin, runErr))
	}
	if parseErr != nil {
		return usage.Snapshot{}, newError(cfg.ID, ErrParseFailure, parseErr)
	}

	p, ok := pick(payloads, cfg.ID)
	if !ok {
		return usage.Snapshot{}, newError(cfg.ID, ErrParseFailure, fmt.Errorf("no payload for provider %q", cfg.ID))
	}
	if p.Error != nil {
		return usage.Snapshot{}, p.Error.classify(cfg.ID)
	}
	snap, err := p.snapshot()
	if err != nil {
		return usage.Snapshot{}, newError(cfg.ID, ErrParseFailure, err)
	}
	return snap, nil
}

func (e *payloadError) classify(id usage.ProviderID) error {
	msg := firstNonEmpty(e.Message, e.Kind, "unknown error")
	if e.Code == 401 || e.Code == 403 || strings.EqualFold(e.Kind, "auth") || matchAny(authPatterns, msg) {
		return newError(id, ErrAuthExpired, errors.New(msg))
	}
	return newError(id, ErrNetworkFailure, errors.New(msg))
}

// apiKey resolves the key for an api-source provider and the environment
// variable it is handed to codexbar in.
func apiKey(cfg Config) (string, string) {
	name := cfg.APIKeyEnv
	if name == "" {
		name = strings.ToUpper(string(cfg.ID)) + "_API_KEY"
	}
	if cfg.APIKey != "" {
		return name, cfg.APIKey
	}
	return name, os.Getenv(name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
