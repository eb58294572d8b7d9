package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"workshop/internal/errors"
)

// NewJSONRequest creates a new HTTP request with JSON body
func NewJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// ParseErrorResponse decodes a structured API error. Bodies that are not
// structured (echo's own 404s, proxies) come back as an internal error
// carrying the raw text.
func ParseErrorResponse(r io.Reader) *errors.HTTPErrorResponse {
	data, _ := io.ReadAll(r)

	var resp errors.HTTPErrorResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.Error.Code == "" {
		resp = errors.HTTPErrorResponse{Error: errors.ErrorInfo{
			Code:    errors.ErrInternal,
			Message: strings.TrimSpace(string(data)),
		}}
	}
	return &resp
}
