// Package chatgpt translates OpenAI-shaped chat-completion requests
// into the upstream ChatGPT backend's conversation envelope, calls it,
// and translates the response (buffered or streamed) back.
package chatgpt

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mindlink-dev/mindlink/pkg/errors"
)

const backendURL = "https://chatgpt.com/backend-api/conversation"

// DefaultModelTable maps announced model ids to the upstream model the
// backend expects; requests naming an unknown model fall back to
// defaultUpstreamModel.
var DefaultModelTable = map[string]string{
	"gpt-5":      "gpt-5",
	"gpt-4o":     "gpt-4o",
	"gpt-4o-mini": "gpt-4o-mini",
	"o3":         "o3",
}

const defaultUpstreamModel = "gpt-5"

// Message is the inbound OpenAI-shaped chat message.
type Message struct {
	Role    string
	Content string
}

// Client calls the upstream ChatGPT backend.
type Client struct {
	httpClient *http.Client
	log        *zap.Logger
}

// New builds a Client with a 30s overall timeout and a 10s connect
// timeout, matching the teacher's custom-Transport idiom.
func New(log *zap.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		log:        log,
	}
}

// ResolveModel maps a requested model id to the upstream model,
// falling back to defaultUpstreamModel for unrecognized ids.
func ResolveModel(requested string) string {
	if upstream, ok := DefaultModelTable[requested]; ok {
		return upstream
	}
	return defaultUpstreamModel
}

type upstreamMessage struct {
	ID      string          `json:"id"`
	Author  upstreamAuthor  `json:"author"`
	Content upstreamContent `json:"content"`
}

type upstreamAuthor struct {
	Role string `json:"role"`
}

type upstreamContent struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

type envelope struct {
	Action          string            `json:"action"`
	Messages        []upstreamMessage `json:"messages"`
	ParentMessageID string            `json:"parent_message_id"`
	Model           string            `json:"model"`
	Temperature     *float64          `json:"temperature,omitempty"`
	MaxTokens       *int              `json:"max_tokens,omitempty"`
	TopP            *float64          `json:"top_p,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
}

// SamplingParams carries the optional request fields forwarded
// verbatim to the upstream envelope.
type SamplingParams struct {
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
}

func buildEnvelope(messages []Message, upstreamModel string, sampling SamplingParams) envelope {
	upstreamMsgs := make([]upstreamMessage, 0, len(messages))
	for _, m := range messages {
		upstreamMsgs = append(upstreamMsgs, upstreamMessage{
			ID:     uuid.NewString(),
			Author: upstreamAuthor{Role: m.Role},
			Content: upstreamContent{
				ContentType: "text",
				Parts:       []string{m.Content},
			},
		})
	}

	parent := uuid.NewString()
	if len(upstreamMsgs) >= 2 {
		parent = upstreamMsgs[len(upstreamMsgs)-2].ID
	}

	return envelope{
		Action:           "next",
		Messages:         upstreamMsgs,
		ParentMessageID:  parent,
		Model:            upstreamModel,
		Temperature:      sampling.Temperature,
		MaxTokens:        sampling.MaxTokens,
		TopP:             sampling.TopP,
		FrequencyPenalty: sampling.FrequencyPenalty,
		PresencePenalty:  sampling.PresencePenalty,
	}
}

// Complete performs a non-streaming call and returns the extracted
// assistant text.
func (c *Client) Complete(ctx context.Context, accessToken string, messages []Message, upstreamModel string, sampling SamplingParams) (string, error) {
	return c.completeAt(ctx, backendURL, accessToken, messages, upstreamModel, sampling)
}

func (c *Client) completeAt(ctx context.Context, url, accessToken string, messages []Message, upstreamModel string, sampling SamplingParams) (string, error) {
	body, err := json.Marshal(buildEnvelope(messages, upstreamModel, sampling))
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "marshal upstream envelope", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(errors.KindNetwork, "build upstream request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.KindNetwork, "call upstream backend", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.Wrap(errors.KindNetwork, "decode upstream response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(errors.KindNetwork, fmt.Sprintf("upstream backend returned %s", resp.Status))
	}
	return extractContent(payload), nil
}

// extractContent tries, in order: message.content.parts[0],
// message.content (string) when message.author.role == "assistant",
// top-level content, and finally choices[0].message.content.
func extractContent(payload map[string]any) string {
	if message, ok := payload["message"].(map[string]any); ok {
		if content, ok := message["content"].(map[string]any); ok {
			if parts, ok := content["parts"].([]any); ok && len(parts) > 0 {
				if s, ok := parts[0].(string); ok {
					return s
				}
			}
		}
		if author, ok := message["author"].(map[string]any); ok {
			if role, _ := author["role"].(string); role == "assistant" {
				if s, ok := message["content"].(string); ok {
					return s
				}
			}
		}
	}
	if s, ok := payload["content"].(string); ok {
		return s
	}
	if choices, ok := payload["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				if s, ok := msg["content"].(string); ok {
					return s
				}
			}
		}
	}
	return ""
}

// extractDelta mirrors extractContent for a streaming chunk: try
// message.content.parts[0], then delta.content, then top-level
// content, then top-level text.
func extractDelta(payload map[string]any) string {
	if message, ok := payload["message"].(map[string]any); ok {
		if content, ok := message["content"].(map[string]any); ok {
			if parts, ok := content["parts"].([]any); ok && len(parts) > 0 {
				if s, ok := parts[0].(string); ok {
					return s
				}
			}
		}
	}
	if delta, ok := payload["delta"].(map[string]any); ok {
		if s, ok := delta["content"].(string); ok {
			return s
		}
	}
	if s, ok := payload["content"].(string); ok {
		return s
	}
	if s, ok := payload["text"].(string); ok {
		return s
	}
	return ""
}

// StreamDelta is one extracted content fragment from the upstream SSE
// stream, or a terminal error.
type StreamDelta struct {
	Content string
	Err     error
}

// Stream performs a streaming call, sending each extracted delta to
// deltaCh and closing it when the upstream stream ends or ctx is
// cancelled.
func (c *Client) Stream(ctx context.Context, accessToken string, messages []Message, upstreamModel string, sampling SamplingParams, deltaCh chan<- StreamDelta) error {
	defer close(deltaCh)

	body, err := json.Marshal(buildEnvelope(messages, upstreamModel, sampling))
	if err != nil {
		return errors.Wrap(errors.KindInternal, "marshal upstream envelope", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backendURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.KindNetwork, "build upstream request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindNetwork, "call upstream backend", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.KindNetwork, fmt.Sprintf("upstream backend returned %s", resp.Status))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			c.log.Debug("skipping unparseable upstream SSE chunk", zap.Error(err))
			continue
		}
		if errPayload, ok := payload["error"].(map[string]any); ok {
			msg, _ := errPayload["message"].(string)
			select {
			case deltaCh <- StreamDelta{Err: errors.New(errors.KindNetwork, "upstream stream error: "+msg)}:
			case <-ctx.Done():
			}
			return nil
		}

		if delta := extractDelta(payload); delta != "" {
			select {
			case deltaCh <- StreamDelta{Content: delta}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return scanner.Err()
}
