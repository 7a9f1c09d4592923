package rollcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
)

// doGetJSON performs a GET request and unmarshals the JSON response into the result type.
// The endpoint is the path after the base API URL (e.g., "subjects/MATH/windows").
func doGetJSON[T any](ctx context.Context, c *Client, endpoint string) (*T, error) {
	return doRequestJSON[T](ctx, c, http.MethodGet, endpoint, nil, http.StatusOK)
}

// doPostJSON performs a POST request with a JSON body and ignores the response body.
// Accepts 200 OK, 201 Created and 204 No Content.
func doPostJSON(ctx context.Context, c *Client, endpoint string, requestBody any) error {
	return doRequestRaw(ctx, c, http.MethodPost, endpoint, requestBody, http.StatusOK, http.StatusCreated, http.StatusNoContent)
}

// doPutJSON performs a PUT request with a JSON body and ignores the response body.
func doPutJSON(ctx context.Context, c *Client, endpoint string, requestBody any) error {
	return doRequestRaw(ctx, c, http.MethodPut, endpoint, requestBody, http.StatusOK, http.StatusNoContent)
}

// doRequestJSON performs an HTTP request with an optional JSON body and decodes the JSON response.
// It accepts one or more valid status codes. If the response status doesn't match any, an error is returned.
func doRequestJSON[T any](ctx context.Context, c *Client, method, endpoint string, requestBody any, expectedStatuses ...int) (*T, error) {
	resp, err := c.send(ctx, method, endpoint, requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isExpectedStatus(resp.StatusCode, expectedStatuses) {
		return nil, statusError(resp)
	}

	var result T
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	return &result, nil
}

// doRequestRaw performs an HTTP request and discards the response body.
func doRequestRaw(ctx context.Context, c *Client, method, endpoint string, requestBody any, expectedStatuses ...int) error {
	resp, err := c.send(ctx, method, endpoint, requestBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isExpectedStatus(resp.StatusCode, expectedStatuses) {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// doGetBytes performs a GET request and returns at most limit bytes of the body.
func doGetBytes(ctx context.Context, c *Client, endpoint string, limit int64) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response exceeds %d bytes", limit)
	}
	return data, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, requestBody any) (*http.Response, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		jsonBody, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolveURL(endpoint), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL constructed from validated baseURL via resolveURL
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
}

// readErrorBody reads a bounded prefix of the response body for error messages.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "(could not read error body)"
	}
	return strings.TrimSpace(string(body))
}

// isExpectedStatus checks if a status code is in the list of expected statuses.
func isExpectedStatus(code int, expected []int) bool {
	return slices.Contains(expected, code)
}

// IsNotFoundError returns true if the error indicates a 404 Not Found response.
func IsNotFoundError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "status 404")
}
