package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/argenta/argenta-backend/internal/api"
)

// client calls the REST surface as a single caller identity.
type client struct {
	baseURL string
	caller  string
	http    *http.Client
	out     io.Writer
}

func newClient(baseURL, caller string, out io.Writer) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		caller:  caller,
		http:    &http.Client{Timeout: 30 * time.Second},
		out:     out,
	}
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// call sends body as JSON and pretty-prints the response.
func (c *client) call(ctx context.Context, method, path string, body any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.caller != "" {
		req.Header.Set(api.CallerHeader, c.caller)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e api.ErrorResponse
		if json.Unmarshal(raw, &e) != nil || e.Code == "" {
			return &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: string(raw)}
		}
		return &APIError{Status: resp.StatusCode, Code: e.Code, Message: e.Message}
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") != nil {
		_, err = c.out.Write(raw)
		return err
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(c.out)
	return err
}
