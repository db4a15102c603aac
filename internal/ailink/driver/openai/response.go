package openai

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/studyforge/studyforge/internal/ailink/driver"
)

type chatCompletionResponse struct {
	Model   string         `json:"model,omitempty"`
	Choices []choice       `json:"choices"`
	Usage   *usage         `json:"usage,omitempty"`
	Error   *responseError `json:"error,omitempty"`
}

type choice struct {
	Message      chatResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type chatResponseMessage struct {
	Content *string `json:"content"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type responseError struct {
	Code    errorCode `json:"code"`
	Type    string    `json:"type,omitempty"`
	Message string    `json:"message"`
}

// errorCode accepts both the numeric codes OpenRouter sends and the
// symbolic codes of OpenAI-style bodies ("invalid_api_key").
type errorCode struct {
	Status int
	Name   string
}

func (c *errorCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if n, err := strconv.Atoi(s); err == nil {
			c.Status = n
			return nil
		}
		c.Name = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	i, err := n.Int64()
	if err != nil {
		return err
	}
	c.Status = int(i)
	return nil
}

// providerError converts an error embedded in a response body.
func (e *responseError) providerError(provider string, raw []byte) *driver.ProviderError {
	code := e.Code.Name
	if code == "" {
		code = e.Type
	}
	return &driver.ProviderError{
		Provider:    provider,
		StatusCode:  e.Code.Status,
		Code:        code,
		Message:     e.Message,
		RawResponse: raw,
	}
}

// toDriverResponse keeps only the first choice. A reply without choices or
// content yields an empty Text so callers can tell "no content" from transport failures.
func toDriverResponse(resp *chatCompletionResponse) *driver.Response {
	out := &driver.Response{Model: resp.Model}

	if len(resp.Choices) > 0 {
		first := resp.Choices[0]
		if first.Message.Content != nil {
			out.Text = *first.Message.Content
		}
		out.FinishReason = first.FinishReason
	}

	if resp.Usage != nil {
		out.Usage = &driver.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return out
}
