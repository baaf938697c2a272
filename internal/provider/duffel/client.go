// Package duffel adapts the Duffel flights API to provider.FlightProvider.
package duffel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/SirClappington/autobook/internal/provider"
)

const apiVersion = "v2"

// codes Duffel uses when an offer can no longer be booked
var staleCodes = map[string]bool{
	"offer_no_longer_available": true,
	"offer_expired":             true,
	"offer_not_found":           true,
	"fare_no_longer_available":  true,
	"price_changed":             true,
}

var transientCodes = map[string]bool{
	"rate_limit_exceeded":   true,
	"internal_server_error": true,
	"service_unavailable":   true,
}

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type apiError struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type errorResponse struct {
	Errors []apiError `json:"errors"`
}

type envelope struct {
	Data any `json:"data"`
}

// do sends body wrapped in {"data": ...} and decodes the response's data into out.
func (c *Client) do(ctx context.Context, op, method, path string, body any, headers map[string]string, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(envelope{Data: body})
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Duffel-Version", apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &provider.Error{Op: op, Class: provider.Transient, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &provider.Error{Op: op, Class: provider.Transient, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 300 {
		return classify(op, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return &provider.Error{Op: op, Class: provider.Fatal, Status: resp.StatusCode, Code: "invalid_response", Err: err}
	}
	if err := json.Unmarshal(wrapper.Data, out); err != nil {
		return &provider.Error{Op: op, Class: provider.Fatal, Status: resp.StatusCode, Code: "invalid_response", Err: err}
	}
	return nil
}

func classify(op string, status int, body []byte) *provider.Error {
	e := &provider.Error{Op: op, Class: provider.ClassForStatus(status), Status: status}
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || len(er.Errors) == 0 {
		return e
	}
	first := er.Errors[0]
	e.Code = first.Code
	msg := first.Message
	if msg == "" {
		msg = first.Title
	}
	if msg != "" {
		e.Err = errors.New(msg)
	}
	switch {
	case staleCodes[first.Code]:
		e.Class = provider.Stale
	case transientCodes[first.Code]:
		e.Class = provider.Transient
	}
	return e
}
