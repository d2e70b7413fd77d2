// Package llm executes the llm_* flavors against an OpenAI-compatible
// chat-completions API. Prompts come from the job params or from staged
// text/PDF inputs, the model from the job with a config fallback.
package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/config"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-inference-pipeline/pkg/textx"
)

// TextExtractor pulls plain text out of staged documents. Satisfied by the
// ocr executor; nil means PDF inputs are rejected.
type TextExtractor interface {
	ExtractPath(ctx domain.Context, path string) (string, error)
}

// Executor implements domain.Executor for llm_generate, llm_summarize and
// llm_compare.
type Executor struct {
	cfg       config.Config
	hc        *http.Client
	extractor TextExtractor
	tokens    *counter
}

// New constructs an llm Executor. extractor may be nil when no Tika server
// is available.
func New(cfg config.Config, extractor TextExtractor) *Executor {
	return &Executor{
		cfg:       cfg,
		hc:        &http.Client{Timeout: 60 * time.Second},
		extractor: extractor,
		tokens:    newCounter(),
	}
}

// generateParams is the accepted params shape for llm_generate. The other
// llm flavors take prompts from their staged inputs and only honor the
// optional keys.
type generateParams struct {
	Prompt    string `json:"prompt"`
	System    string `json:"system"`
	MaxTokens int    `json:"max_tokens"`
}

// Execute builds the flavor-specific prompt, calls the chat API with
// retries and returns {"output","model","usage"} inline.
func (e *Executor) Execute(ctx domain.Context, t domain.TaskMessage, _ string) (string, error) {
	var p generateParams
	if t.Params != "" {
		if err := json.Unmarshal([]byte(t.Params), &p); err != nil {
			return "", fmt.Errorf("op=llm.execute: %w: bad params json", domain.ErrInvalidArgument)
		}
	}

	system, user, err := e.buildPrompt(ctx, t, p)
	if err != nil {
		return "", err
	}

	model := t.Model
	if model == "" {
		model = e.cfg.LLMModel
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 || maxTokens > e.cfg.LLMMaxTokens {
		maxTokens = e.cfg.LLMMaxTokens
	}

	content, err := e.chat(ctx, model, system, user, maxTokens)
	if err != nil {
		return "", err
	}

	prompt := e.tokens.chatTokens(system, user, model)
	completion := e.tokens.textTokens(content, model)
	out, _ := json.Marshal(map[string]any{
		"output": content,
		"model":  model,
		"usage": Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	})
	return string(out), nil
}

func (e *Executor) buildPrompt(ctx domain.Context, t domain.TaskMessage, p generateParams) (system, user string, err error) {
	system = p.System
	switch t.Flavor {
	case "llm_generate":
		if strings.TrimSpace(p.Prompt) == "" {
			return "", "", fmt.Errorf("op=llm.prompt: %w: params.prompt required", domain.ErrInvalidArgument)
		}
		return system, p.Prompt, nil
	case "llm_summarize":
		text, err := e.readText(ctx, t.PrimaryPath)
		if err != nil {
			return "", "", err
		}
		if system == "" {
			system = "You summarize documents. Reply with a concise summary of the provided text."
		}
		return system, text, nil
	case "llm_compare":
		a, err := e.readText(ctx, t.PrimaryPath)
		if err != nil {
			return "", "", err
		}
		b, err := e.readText(ctx, t.SecondaryPath)
		if err != nil {
			return "", "", err
		}
		if system == "" {
			system = "You compare documents. Describe the substantive differences and similarities between document A and document B."
		}
		return system, "Document A:\n" + a + "\n\nDocument B:\n" + b, nil
	default:
		return "", "", fmt.Errorf("op=llm.prompt: %w: flavor %q", domain.ErrInvalidArgument, t.Flavor)
	}
}

func (e *Executor) readText(ctx domain.Context, path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		if e.extractor == nil {
			return "", fmt.Errorf("op=llm.read: %w: pdf input needs a text extractor", domain.ErrInvalidArgument)
		}
		return e.extractor.ExtractPath(ctx, path)
	}
	b, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- staged by the dispatcher
	if err != nil {
		return "", fmt.Errorf("op=llm.read: %w", err)
	}
	return textx.SanitizeText(string(b)), nil
}

// chat calls the chat-completions endpoint, retrying on 429, 5xx and
// transport errors with exponential backoff.
func (e *Executor) chat(ctx domain.Context, model, system, user string, maxTokens int) (string, error) {
	if e.cfg.LLMAPIKey == "" {
		return "", fmt.Errorf("op=llm.chat: %w: LLM_API_KEY missing", domain.ErrInvalidArgument)
	}

	body := map[string]any{
		"model":       model,
		"temperature": 0.2,
		"max_tokens":  maxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	b, _ := json.Marshal(body)

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	op := func() error {
		// Recreate the request each attempt to avoid reusing consumed bodies.
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.LLMBaseURL+"/chat/completions", bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+e.cfg.LLMAPIKey)
		req.Header.Set("Content-Type", "application/json")
		resp, err := e.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Warn("llm provider rate limited", slog.String("model", model))
			return fmt.Errorf("chat status 429")
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			slog.Warn("llm provider 4xx", slog.Int("status", resp.StatusCode), slog.String("body", snippet(raw)))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			slog.Error("llm provider non-2xx", slog.Int("status", resp.StatusCode), slog.String("body", snippet(raw)))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		return json.Unmarshal(raw, &out)
	}

	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime, expo.InitialInterval, expo.MaxInterval, expo.Multiplier = e.cfg.GetLLMBackoffConfig()
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return "", fmt.Errorf("op=llm.chat: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("op=llm.chat: %w", errors.New("empty choices"))
	}
	return out.Choices[0].Message.Content, nil
}

func snippet(b []byte) string {
	if len(b) > 512 {
		b = b[:512]
	}
	return string(b)
}
