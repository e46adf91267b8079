package ollama

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/JexSrs/go-ollama"
	"github.com/sirupsen/logrus"

	domai "github.com/bryanwahyu/metro-bim/internal/domain/ai"
	"github.com/bryanwahyu/metro-bim/internal/infra/ai/prompt"
)

// Client talks to a local Ollama server through the Generate endpoint.
type Client struct {
	client       *ollama.Ollama
	defaultModel string
	maxPrompt    int
	log          logrus.FieldLogger
}

// NewClient parses host and returns a ready client. maxPrompt caps the user
// prompt in bytes; zero disables the cap.
func NewClient(host, defaultModel string, maxPrompt int, log logrus.FieldLogger) (*Client, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid ollama host %q", host)
	}
	log.WithFields(logrus.Fields{"host": host, "model": defaultModel}).Info("using ollama provider")
	return &Client{client: ollama.New(*u), defaultModel: defaultModel, maxPrompt: maxPrompt, log: log}, nil
}

// Submit implements ai.Capability. The Generate call does not take a context,
// so cancellation is only checked before the request.
func (c *Client) Submit(ctx context.Context, systemPrompt, userPrompt, model string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if model == "" {
		model = c.defaultModel
	}
	if c.maxPrompt > 0 && len(userPrompt) > c.maxPrompt {
		before := len(userPrompt)
		userPrompt = truncatePrompt(userPrompt, c.maxPrompt)
		c.log.WithFields(logrus.Fields{"from": before, "to": len(userPrompt)}).Warn("prompt truncated")
	}

	res, err := c.client.Generate(
		c.client.Generate.WithModel(model),
		c.client.Generate.WithSystem(systemPrompt),
		c.client.Generate.WithPrompt(userPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if !res.Done {
		return "", fmt.Errorf("%w: ollama request did not finish", domai.ErrUnavailable)
	}
	out := strings.TrimSpace(res.Response)
	if out == "" {
		return "", domai.ErrEmptyResponse
	}
	return out, nil
}

// truncatePrompt shortens the free text before the schema block so the prompt
// fits in limit bytes, cutting on a rune boundary. The schema block is kept whole
// even when it alone is longer than limit.
func truncatePrompt(p string, limit int) string {
	idx := strings.LastIndex(p, prompt.SchemaMarker)
	if idx < 0 {
		idx = len(p)
	}
	head, tail := p[:idx], p[idx:]
	budget := limit - len(tail)
	if budget <= 0 {
		return tail
	}
	if len(head) <= budget {
		return p
	}
	for budget > 0 && !utf8.RuneStart(head[budget]) {
		budget--
	}
	return head[:budget] + tail
}
