package adapter

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBytes = 32 << 20

// newHTTPClient builds the client all HTTP adapters share: bounded
// timeout, optional TLS verification, no ambient proxies from the
// environment of a polled device.
func newHTTPClient(p Params) *http.Client {
	return &http.Client{
		Timeout: p.timeout(),
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !p.VerifyTLS}, //nolint:gosec // operator-controlled per endpoint
		},
	}
}

// baseURL builds scheme://host[:port], omitting default ports.
func baseURL(scheme, host string, port int) string {
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// doJSON issues one bounded request and decodes the JSON response into
// out. Transport errors come back as Unreachable; bad JSON on a 2xx
// response comes back as Malformed. Non-2xx statuses are returned as
// httpStatusError for the caller to classify (401 on a login is
// Unreachable, 400 mid-session is usually Malformed).
func doJSON(ctx context.Context, client *http.Client, req *http.Request, out interface{}) error {
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	if err != nil {
		return Unreachable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Unreachable(fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &httpStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Malformed(fmt.Sprintf("decoding %s", req.URL.Path), err)
	}
	return nil
}

// jsonRequest builds a request carrying a JSON body.
func jsonRequest(method, url string, payload interface{}) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// httpStatusError is an HTTP-level failure awaiting classification.
type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Status)
}

// classifyStatus maps an HTTP failure to the adapter taxonomy. Auth
// and availability statuses are Unreachable (retry later); anything
// else means the device answered in a way we did not expect.
func classifyStatus(err error) error {
	se, ok := err.(*httpStatusError)
	if !ok {
		return err
	}
	switch se.Status {
	case http.StatusUnauthorized, http.StatusForbidden,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Unreachable(se)
	default:
		return Malformed(fmt.Sprintf("unexpected status %d", se.Status), nil)
	}
}

// now is stubbed in tests.
var now = time.Now
