package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// clientSlack covers HTTP overhead beyond the query's own collection window.
const clientSlack = 10 * time.Second

type queryResponse struct {
	ID      string   `json:"id"`
	Results []string `json:"results"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(flags *globalFlags) *client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if flags.insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in flag
	}
	return &client{
		base:  strings.TrimRight(flags.addr, "/"),
		token: flags.token,
		http:  &http.Client{Transport: transport},
	}
}

func (c *client) Query(ctx context.Context, text string, timeout time.Duration) (queryResponse, error) {
	target := c.base + "/api/v1/query/process"
	if timeout > 0 {
		target += "?timeout=" + url.QueryEscape(timeout.String())
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+clientSlack)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBufferString(text))
	if err != nil {
		return queryResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	var resp queryResponse
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		return queryResponse{}, err
	}
	return resp, nil
}

func (c *client) Health(ctx context.Context) (healthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", http.NoBody)
	if err != nil {
		return healthResponse{}, fmt.Errorf("build request: %w", err)
	}

	var resp healthResponse
	// 503 still carries a report.
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		var se *statusError
		if !errors.As(err, &se) || se.status != http.StatusServiceUnavailable {
			return healthResponse{}, err
		}
		if jerr := json.Unmarshal(se.body, &resp); jerr != nil {
			return healthResponse{}, err
		}
	}
	return resp, nil
}

type statusError struct {
	status int
	body   []byte
	msg    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("node returned %d: %s", e.status, e.msg)
}

func (c *client) do(req *http.Request, want int, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != want {
		msg := strings.TrimSpace(string(body))
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && er.Message != "" {
			msg = er.Code + ": " + er.Message
		}
		return &statusError{status: resp.StatusCode, body: body, msg: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
