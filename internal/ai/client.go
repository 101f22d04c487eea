package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"talkops/internal/logger"
)

type baseHTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  logger.Logger
}

func newBaseHTTPClient(client *http.Client, baseURL, apiKey string, log logger.Logger) *baseHTTPClient {
	return &baseHTTPClient{
		client:  client,
		baseURL: baseURL,
		apiKey:  apiKey,
		logger:  log,
	}
}

func (c *baseHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.baseURL != "" && !strings.HasPrefix(req.URL.String(), "http") {
		req.URL, _ = url.Parse(fmt.Sprintf(
			"%s/%s",
			strings.TrimSuffix(c.baseURL, "/"),
			strings.TrimPrefix(req.URL.String(), "/"),
		))
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewBuffer(body))
	}

	c.logger.WithFields(logger.Fields{
		"url":    req.URL.String(),
		"method": req.Method,
		"size":   len(body),
	}).Debug("HTTP request")

	return c.client.Do(req)
}

// OpenAICompatibleClient speaks the /chat/completions wire contract in both
// one-shot and SSE-streamed modes.
type OpenAICompatibleClient struct {
	name         string
	chatURL      string
	defaultModel string
	logger       logger.Logger
	httpClient   *baseHTTPClient
}

func NewOpenAICompatibleClient(
	name string,
	baseURL string,
	chatURL string,
	apiKey string,
	defaultModel string,
	log logger.Logger,
	httpClient *http.Client,
) *OpenAICompatibleClient {
	if chatURL == "" {
		chatURL = "/chat/completions"
	}

	return &OpenAICompatibleClient{
		name:         name,
		chatURL:      strings.TrimPrefix(chatURL, "/"),
		defaultModel: defaultModel,
		logger:       log,
		httpClient:   newBaseHTTPClient(httpClient, baseURL, apiKey, log),
	}
}

func (c *OpenAICompatibleClient) Name() string {
	return c.name
}

func (c *OpenAICompatibleClient) DefaultModel() string {
	return c.defaultModel
}

func (c *OpenAICompatibleClient) Ask(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	request.Stream = false
	_, body, aiErr := c.doRequest(ctx, request, nil, false)
	if aiErr != nil {
		aiErr.ModelName = request.Model
		return nil, aiErr
	}

	var result CompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &AIError{
			OriginalErr:  err,
			ProviderName: c.Name(),
			ModelName:    request.Model,
			Message:      "failed to unmarshal response",
		}
	}

	// some providers return errors inside a 200 OK body
	if result.Error != nil {
		return nil, &AIError{
			ProviderName: c.Name(),
			ModelName:    request.Model,
			ErrorCode:    result.Error.Code,
			Message:      result.Error.Message,
		}
	}

	if len(result.Choices) == 0 {
		return nil, &AIError{
			ProviderName: c.Name(),
			ModelName:    request.Model,
			Message:      "no choices in response",
		}
	}

	return &result, nil
}

func (c *OpenAICompatibleClient) AskStream(ctx context.Context, request CompletionRequest) (<-chan Chunk, error) {
	request.Stream = true
	headers := map[string]string{"Accept": "text/event-stream"}
	resp, _, aiErr := c.doRequest(ctx, request, headers, true)
	if aiErr != nil {
		aiErr.ModelName = request.Model
		return nil, aiErr
	}

	chunkCh := make(chan Chunk)
	go func() {
		defer close(chunkCh)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		tempToolCalls := make(map[int]*ToolCall)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					c.logger.WithError(err).Error("Stream read error")
				}
				return
			}

			if len(line) <= 6 || string(line[:6]) != "data: " {
				continue
			}

			jsonData := bytes.TrimSpace(line[6:])
			if string(jsonData) == "[DONE]" {
				return
			}

			var event StreamResponse
			if err := json.Unmarshal(jsonData, &event); err != nil {
				c.logger.WithFields(logger.Fields{
					"error": err,
					"data":  string(jsonData),
				}).Error("Stream decode error")
				continue
			}

			if len(event.Choices) == 0 {
				continue
			}
			delta := event.Choices[0].Delta

			// tool-call arguments arrive as partial deltas keyed by index;
			// the same id may span multiple chunks
			for _, partialCall := range delta.ToolCalls {
				existing, exists := tempToolCalls[partialCall.Index]
				if !exists {
					call := partialCall
					tempToolCalls[partialCall.Index] = &call
					continue
				}
				if partialCall.ID != "" {
					existing.ID = partialCall.ID
				}
				if partialCall.Type != "" {
					existing.Type = partialCall.Type
				}
				if partialCall.Function.Name != "" {
					existing.Function.Name = partialCall.Function.Name
				}
				if partialCall.Function.Arguments != "" {
					existing.Function.Arguments += partialCall.Function.Arguments
				}
			}

			chunk := Chunk{
				Content: delta.Content,
				Usage:   &event.Usage,
			}

			switch event.Choices[0].FinishReason {
			case "tool_calls", "stop":
				if len(tempToolCalls) > 0 {
					chunk.Tools = collectToolCalls(tempToolCalls)
					tempToolCalls = nil
				}
			case "error":
				chunk.Error = &AIError{
					ProviderName: c.Name(),
					ModelName:    request.Model,
					Message:      "stream generation failed",
				}
			}

			chunkCh <- chunk
		}
	}()

	return chunkCh, nil
}

func (c *OpenAICompatibleClient) doRequest(
	ctx context.Context,
	request CompletionRequest,
	headers map[string]string,
	stream bool,
) (*http.Response, []byte, *AIError) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, nil, &AIError{
			OriginalErr:  err,
			ProviderName: c.Name(),
			Message:      "marshal error",
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.chatURL, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, nil, &AIError{
			OriginalErr:  err,
			ProviderName: c.Name(),
			Message:      "create request error",
		}
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &AIError{
			OriginalErr:  err,
			ProviderName: c.Name(),
			Message:      "network request failed",
		}
	}

	invalidStatusCode := resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices

	var responseBody []byte
	if !stream || invalidStatusCode {
		defer resp.Body.Close()
		responseBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, &AIError{
				OriginalErr:  err,
				ProviderName: c.Name(),
				Message:      "failed to read response body",
			}
		}
	}

	if invalidStatusCode {
		var providerError struct {
			Error ProviderError `json:"error"`
		}

		aiError := &AIError{
			ProviderName:   c.Name(),
			HTTPStatusCode: resp.StatusCode,
			Message:        fmt.Sprintf("HTTP request failed with status code: %d", resp.StatusCode),
		}

		if len(responseBody) > 0 {
			json.Unmarshal(responseBody, &providerError)
			if providerError.Error.Message != "" {
				aiError.Message = providerError.Error.Message
				aiError.ErrorCode = providerError.Error.Code
			}
		}

		return nil, responseBody, aiError
	}

	return resp, responseBody, nil
}

func collectToolCalls(calls map[int]*ToolCall) []ToolCall {
	maxIndex := -1
	for index := range calls {
		if index > maxIndex {
			maxIndex = index
		}
	}
	result := make([]ToolCall, 0, len(calls))
	for i := 0; i <= maxIndex; i++ {
		if call, ok := calls[i]; ok {
			result = append(result, *call)
		}
	}
	return result
}
