package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prmerge/internal/aiconnectors"
	"github.com/prmerge/internal/logging"
	"github.com/prmerge/internal/prompts"
	"github.com/prmerge/internal/retry"
	"github.com/prmerge/pkg/models"
)

// Completer is the completion service the client talks to
type Completer interface {
	Complete(ctx context.Context, req aiconnectors.CompletionRequest) (string, error)
}

// Client sends resolution requests and parses the answers into edits
type Client struct {
	Completer Completer
	Model     string        // for logs
	Timeout   time.Duration // per call; zero means no extra deadline
	MaxTokens int
	// Retry repeats failed transport calls. nil sends exactly one request.
	Retry *retry.RetryConfig
	Log   *logging.RunLogger
}

// NewClient creates a client that sends a single request per resolution
func NewClient(completer Completer, timeout time.Duration, log *logging.RunLogger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	return &Client{Completer: completer, Timeout: timeout, Log: log}
}

// Resolve asks the model for resolved file contents. A missed deadline is ErrTimeout, an answer
// that does not have the expected shape is ErrMalformedModelOutput.
func (c *Client) Resolve(ctx context.Context, req *prompts.Request) ([]models.ResolutionEdit, error) {
	if req == nil {
		return nil, fmt.Errorf("no request to send")
	}
	log := c.Log
	if log == nil {
		log = logging.Nop()
	}

	creq := aiconnectors.CompletionRequest{
		System:     req.System,
		User:       req.User,
		Schema:     req.Schema,
		SchemaName: req.SchemaName,
		MaxTokens:  c.MaxTokens,
	}
	log.LogRequest(c.Model, req.System, req.User)

	call := func() (string, error) {
		callCtx := ctx
		if c.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
			defer cancel()
		}
		raw, err := c.Completer.Complete(callCtx, creq)
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", models.Wrap(models.ErrTimeout, "complete", fmt.Errorf("no answer within %v: %w", c.Timeout, err))
		}
		return raw, err
	}

	var raw string
	var err error
	start := time.Now()
	if c.Retry != nil {
		raw, err = retry.Do(ctx, *c.Retry, &log.Logger, call)
	} else {
		raw, err = call()
	}
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}

	log.LogResponse(raw)
	log.Logger.Info().Dur("duration", time.Since(start)).Int("bytes", len(raw)).Msg("Model answered")

	edits, err := ParseEdits(raw, log.Logger)
	if err != nil {
		return nil, err
	}
	log.Logger.Info().Int("edits", len(edits)).Msg("Parsed resolution edits")
	return edits, nil
}
