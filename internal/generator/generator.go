// Package generator words daily challenges with a hosted language model.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"
)

var (
	ErrMalformedResponse = errors.New("malformed generator response")
	ErrEmptyChallenge    = errors.New("generator returned an empty challenge")
	errAPIKeyRequired    = errors.New("API key required")
)

// Error is returned by every backend so callers can tell which provider failed.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s generator: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Generator produces the text of one challenge for a goal.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request carries the goal, the 1-based day number and recent challenge texts to avoid repeating.
type Request struct {
	Goal   string
	Day    int
	Recent []string
}

// completion is the raw model call shared by all backends.
type completion func(ctx context.Context, system, user string) (string, error)

const systemPromptTemplate = `You are an accountability coach helping users achieve their goals through daily challenges.

Goal: {{.Goal}}

Generate a challenge for today. The challenge should:
- Help the members make progress toward the goal
- Be specific and actionable
- Be achievable in one day
- Be measurable (members should be able to clearly say "done" or "not done")
- Be motivating but not overwhelming

Respond in this exact JSON format:
{
    "challenge": "Description of what members need to do (1-2 sentences)"
}

This is day {{.Day}} of the goal.{{if .Recent}} Some of the past challenges are: {{join .Recent "; "}}. Try not to repeat the same challenges.{{end}}

Respond only with the JSON, no other text.`

var systemPrompt = template.Must(template.New("challenge").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(systemPromptTemplate))

func renderPrompt(req Request) (system, user string, err error) {
	var buf bytes.Buffer
	if err := systemPrompt.Execute(&buf, req); err != nil {
		return "", "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), "Generate a challenge for: " + req.Goal, nil
}

// parseChallenge extracts the challenge from the model's JSON reply. Models
// sometimes wrap JSON in a code fence, so the outermost object is used.
func parseChallenge(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", ErrMalformedResponse
	}
	var out struct {
		Challenge *string `json:"challenge"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Challenge == nil {
		return "", fmt.Errorf("%w: missing challenge field", ErrMalformedResponse)
	}
	text := strings.TrimSpace(*out.Challenge)
	if text == "" {
		return "", ErrEmptyChallenge
	}
	return text, nil
}

// retryPolicy bounds how long one generation may keep retrying.
type retryPolicy struct {
	initial    time.Duration
	maxElapsed time.Duration
	maxRetries uint64
}

var defaultRetry = retryPolicy{initial: time.Second, maxElapsed: 20 * time.Second, maxRetries: 3}

// base wires the prompt, retry and parsing around a provider's completion call.
type base struct {
	provider string
	call     completion
	retry    retryPolicy
}

func (b *base) Generate(ctx context.Context, req Request) (string, error) {
	system, user, err := renderPrompt(req)
	if err != nil {
		return "", &Error{Provider: b.provider, Err: err}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.retry.initial
	bo.MaxElapsedTime = b.retry.maxElapsed

	var text string
	op := func() error {
		raw, err := b.call(ctx, system, user)
		if err != nil {
			if ctx.Err() != nil || !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		// A bad reply is worth one more sample.
		text, err = parseChallenge(raw)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, b.retry.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", &Error{Provider: b.provider, Err: err}
	}
	return text, nil
}

// statusError is a non-2xx reply from an HTTP backend.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, errAPIKeyRequired) {
		return false
	}
	if code, ok := statusCode(err); ok {
		return code == 429 || code >= 500
	}
	return true
}

// statusCode extracts the HTTP status from any backend's error type.
func statusCode(err error) (int, bool) {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode, true
	}
	var ge genai.APIError
	if errors.As(err, &ge) {
		return ge.Code, true
	}
	return 0, false
}
