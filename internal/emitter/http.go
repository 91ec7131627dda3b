package emitter

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/serverdensity/sd-agent/internal/version"
)

// ErrPermanent marks delivery failures that retrying cannot fix, such as a
// rejected agent key. Callers should drop the payload instead of requeueing.
var ErrPermanent = errors.New("permanent delivery failure")

// HTTPEmitter posts payloads to the Server Density intake API.
type HTTPEmitter struct {
	intakeURL string
	agentKey  string
	client    *http.Client
}

// NewHTTPEmitter builds an emitter for the given intake base URL, e.g.
// https://example.agent.serverdensity.io.
func NewHTTPEmitter(intakeURL, agentKey string, skipSSLValidation bool, timeout time.Duration) *HTTPEmitter {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	transport := &http.Transport{}
	if skipSSLValidation {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &HTTPEmitter{
		intakeURL: intakeURL,
		agentKey:  agentKey,
		client:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (e *HTTPEmitter) Name() string { return "intake" }

func (e *HTTPEmitter) Emit(ctx context.Context, body []byte) error {
	if e.agentKey == "" {
		return fmt.Errorf("agent key is not configured: %w", ErrPermanent)
	}
	target := e.intakeURL + "/intake?agent_key=" + url.QueryEscape(e.agentKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build intake request: %w", err)
	}

	digest := md5.Sum(body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-MD5", hex.EncodeToString(digest[:]))
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("SD-Collector-Version", version.AgentVersion)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to intake: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("intake rejected agent key (status %d): %w", resp.StatusCode, ErrPermanent)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("intake returned status %d: %w", resp.StatusCode, ErrPermanent)
	default:
		return fmt.Errorf("intake returned status %d", resp.StatusCode)
	}
}
