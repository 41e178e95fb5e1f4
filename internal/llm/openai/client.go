package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/joseph-ayodele/car-analyzer/internal/common"
	"github.com/joseph-ayodele/car-analyzer/internal/llm"
)

var _ llm.Completer = (*Client)(nil)

// Ready reports a configuration error when no API key is available.
func (c *Client) Ready() error {
	if c.cfg.APIKey == "" {
		return common.NewAppError(common.CodeConfig, "OPENAI_API_KEY is not set", nil)
	}
	return nil
}

// Complete posts one chat-completions request carrying the instruction and the image
// and returns the raw response body. Non-2xx answers come back as *llm.APIError;
// connection failures and timeouts match common.ErrTransport.
func (c *Client) Complete(ctx context.Context, instruction, dataURI string) ([]byte, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}
	logger := common.LoggerFromContext(ctx, c.logger)
	rid := common.RequestIDFromContext(ctx)
	start := time.Now()

	logger.Info("llm.complete.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"max_tokens", c.cfg.MaxTokens,
		"detail", c.cfg.ImageDetail,
		"api_key", common.MaskSecret(c.cfg.APIKey),
		"data_uri_len", len(dataURI),
	)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	raw, status, err := llm.SendJSON(ctx, c.http, endpoint, c.requestBody(instruction, dataURI), headers, logger)
	if err != nil {
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) {
			logger.Error("llm.complete.api_error",
				"req_id", rid, "status", status, "rate_limited", apiErr.RateLimited(),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		} else {
			logger.Error("llm.complete.http_error",
				"req_id", rid, "error", err,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		}
		return nil, err
	}

	logger.Info("llm.complete.ok",
		"req_id", rid,
		"status", status,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return raw, nil
}

func (c *Client) requestBody(instruction, dataURI string) map[string]any {
	image := map[string]any{"url": dataURI}
	if c.cfg.ImageDetail != "" {
		image["detail"] = c.cfg.ImageDetail
	}
	return map[string]any{
		"model":      c.cfg.Model,
		"max_tokens": c.cfg.MaxTokens,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": instruction},
					{"type": "image_url", "image_url": image},
				},
			},
		},
	}
}
