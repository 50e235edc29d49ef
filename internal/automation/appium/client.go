package appium

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultCommandTimeout = 30 * time.Second

// envelope is the W3C WebDriver response wrapper.
type envelope[T any] struct {
	Value T `json:"value"`
}

type errorValue struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type client struct {
	http    *resty.Client
	baseURL string
}

func newClient(serverURL string, httpClient *resty.Client) (*client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("appium server url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid appium server url: %w", err)
	}
	if httpClient == nil {
		httpClient = resty.New()
	}
	if httpClient.GetClient().Timeout == 0 {
		httpClient.SetTimeout(defaultCommandTimeout)
	}
	// Retries are handled by the caller where they are safe.
	httpClient.SetRetryCount(0)

	return &client{http: httpClient, baseURL: trimmed}, nil
}

// call sends one command and decodes the value field of the response into out.
func call[T any](ctx context.Context, c *client, command string, method string, path string, body any) (T, error) {
	var result envelope[T]
	var failure envelope[errorValue]

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetResult(&result).
		SetError(&failure)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, c.baseURL+path)
	if err != nil {
		return result.Value, &CommandError{
			Command:   command,
			Message:   "request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	status := resp.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		msg := strings.TrimSpace(failure.Value.Message)
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return result.Value, &CommandError{
			Command:    command,
			StatusCode: status,
			Message:    msg,
			Transient:  isTransientHTTPStatus(status),
		}
	}

	return result.Value, nil
}
