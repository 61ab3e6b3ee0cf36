package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

// retryable reports whether the request may succeed if sent again.
func (e *apiError) retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

type client struct {
	baseURL  string
	personID string
	http     *http.Client
}

func newClient(baseURL, personID string) *client {
	return &client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		personID: personID,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.personID != "" {
		req.Header.Set("X-Person-Id", c.personID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Code: e.Error, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) register(ctx context.Context, phone string, info types.DeviceInfo) (types.RegisterResponse, error) {
	var out types.RegisterResponse
	err := c.do(ctx, http.MethodPost, "/devices/register", types.RegisterRequest{PhoneNumber: phone, DeviceInfo: info}, &out)
	return out, err
}

func (c *client) verifyStatus(ctx context.Context, verificationID string) (types.VerifyStatusResponse, error) {
	var out types.VerifyStatusResponse
	err := c.do(ctx, http.MethodGet, "/devices/verify/"+verificationID, nil, &out)
	return out, err
}

func (c *client) issueIdentity(ctx context.Context, fingerprint, deviceToken string) (types.IdentityTokenResponse, error) {
	var out types.IdentityTokenResponse
	err := c.do(ctx, http.MethodPost, "/qr/identity/token", types.IdentityTokenRequest{
		DeviceFingerprint: fingerprint,
		DeviceTrustToken:  deviceToken,
	}, &out)
	return out, err
}

func isRetryable(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.retryable()
	}
	// Transport errors are worth another attempt.
	return true
}
