package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mindlink-dev/mindlink/internal/infrastructure/chatgpt"
)

// CredentialFn returns a valid upstream access token.
type CredentialFn func(ctx context.Context) (string, error)

// OpenAIHandler implements the OpenAI chat-completions-compatible API
// surface over the ChatGPT backend.
type OpenAIHandler struct {
	client           *chatgpt.Client
	ensureCredential CredentialFn
	log              *zap.Logger
	models           []OpenAIModel
}

// ChatCompletionRequest mirrors OpenAI's request shape.
type ChatCompletionRequest struct {
	Model            string        `json:"model" binding:"required"`
	Messages         []ChatMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
}

// ChatMessage is one inbound conversation turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse mirrors OpenAI's non-streaming response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatStreamChunk mirrors OpenAI's streaming chunk shape.
type ChatStreamChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
}

type ChatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        ChatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type ChatStreamDelta struct {
	Content string `json:"content,omitempty"`
}

// OpenAIModel is one entry in the /v1/models response.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse mirrors OpenAI's models list response.
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// NewOpenAIHandler builds a handler over client, gating every request
// on ensureCredential.
func NewOpenAIHandler(client *chatgpt.Client, ensureCredential CredentialFn, log *zap.Logger) *OpenAIHandler {
	models := make([]OpenAIModel, 0, len(chatgpt.DefaultModelTable))
	for id := range chatgpt.DefaultModelTable {
		models = append(models, OpenAIModel{ID: id, Object: "model", Created: time.Now().Unix(), OwnedBy: "mindlink"})
	}
	return &OpenAIHandler{
		client:           client,
		ensureCredential: ensureCredential,
		log:              log,
		models:           models,
	}
}

// ListModels handles GET /v1/models.
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, ModelsResponse{Object: "list", Data: h.models})
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), 400))
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, errorBody("messages array cannot be empty", 400))
		return
	}

	token, err := h.ensureCredential(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorBody(err.Error(), 401))
		return
	}

	upstreamModel := chatgpt.ResolveModel(req.Model)
	messages := make([]chatgpt.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = chatgpt.Message{Role: m.Role, Content: m.Content}
	}
	sampling := chatgpt.SamplingParams{
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}

	if req.Stream {
		h.handleStream(c, &req, token, upstreamModel, messages, sampling)
		return
	}
	h.handleNonStream(c, &req, token, upstreamModel, messages, sampling)
}

func (h *OpenAIHandler) handleNonStream(c *gin.Context, req *ChatCompletionRequest, token, upstreamModel string, messages []chatgpt.Message, sampling chatgpt.SamplingParams) {
	content, err := h.client.Complete(c.Request.Context(), token, messages, upstreamModel, sampling)
	if err != nil {
		h.log.Error("upstream completion failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, errorBody(err.Error(), 502))
		return
	}

	promptTokens := estimateTokens(req.Messages)
	completionTokens := 100

	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: ChatUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

func (h *OpenAIHandler) handleStream(c *gin.Context, req *ChatCompletionRequest, token, upstreamModel string, messages []chatgpt.Message, sampling chatgpt.SamplingParams) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	completionID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	deltaCh := make(chan chatgpt.StreamDelta, 100)
	ctx := c.Request.Context()

	go func() {
		if err := h.client.Stream(ctx, token, messages, upstreamModel, sampling, deltaCh); err != nil {
			h.log.Warn("upstream stream ended with error", zap.Error(err))
		}
	}()

	clientGone := c.Writer.CloseNotify()
	for {
		select {
		case <-clientGone:
			return
		case <-ctx.Done():
			return
		case d, ok := <-deltaCh:
			if !ok {
				h.writeChunk(c.Writer, finalChunk(completionID, created, req.Model))
				c.Writer.Flush()
				io.WriteString(c.Writer, "data: [DONE]\n\n")
				c.Writer.Flush()
				return
			}
			if d.Err != nil {
				h.writeErrorFrame(c.Writer, d.Err)
				c.Writer.Flush()
				return
			}
			h.writeChunk(c.Writer, ChatStreamChunk{
				ID:      completionID,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   req.Model,
				Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{Content: d.Content}}},
			})
			c.Writer.Flush()
		}
	}
}

func finalChunk(id string, created int64, model string) ChatStreamChunk {
	reason := "stop"
	return ChatStreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{}, FinishReason: &reason}},
	}
}

func (h *OpenAIHandler) writeChunk(w io.Writer, chunk ChatStreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		h.log.Error("failed to marshal SSE chunk", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func (h *OpenAIHandler) writeErrorFrame(w io.Writer, err error) {
	data, _ := json.Marshal(gin.H{"error": gin.H{"message": err.Error(), "type": "server_error"}})
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func estimateTokens(messages []ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
	}
	return total
}

func errorBody(message string, code int) gin.H {
	return gin.H{"error": gin.H{"message": message, "type": "invalid_request_error", "code": code}}
}
