// Package httpcheck probes HTTP endpoints and reports availability and
// response time.
package httpcheck

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/serverdensity/sd-agent/internal/checks"
	"github.com/serverdensity/sd-agent/internal/config"
)

const (
	// CheckName is the conf.d name this check registers under.
	CheckName = "httpcheck"

	defaultTimeout = 10 * time.Second

	responseTimeMetric = "network.http.response_time"
	canConnectCheck    = "http.can_connect"
	responseStatus     = "http.response_status"
)

func init() {
	checks.Register(CheckName, func() checks.Check { return New() })
}

// Check probes one URL per configured instance.
type Check struct {
	url            string
	method         string
	timeout        time.Duration
	expectedStatus *regexp.Regexp
	contentMatch   string
	headers        http.Header
	tags           []string

	client *http.Client
}

func New() *Check { return &Check{} }

func (c *Check) Name() string { return CheckName }

func (c *Check) Configure(init map[string]any, instance config.Instance, agentCfg *config.Config) error {
	c.url = instance.String("url")
	if c.url == "" {
		return fmt.Errorf("instance is missing required option url")
	}
	if !strings.HasPrefix(c.url, "http://") && !strings.HasPrefix(c.url, "https://") {
		return fmt.Errorf("url %q must start with http:// or https://", c.url)
	}

	c.method = strings.ToUpper(instance.String("method"))
	if c.method == "" {
		c.method = http.MethodGet
	}

	c.timeout = defaultTimeout
	switch v := instance["timeout"].(type) {
	case int:
		c.timeout = time.Duration(v) * time.Second
	case float64:
		c.timeout = time.Duration(v * float64(time.Second))
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		c.timeout = d
	}

	if pattern := instance.String("http_response_status_code"); pattern != "" {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return fmt.Errorf("compile http_response_status_code: %w", err)
		}
		c.expectedStatus = re
	}
	c.contentMatch = instance.String("content_match")

	c.headers = http.Header{}
	if raw, ok := instance["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				c.headers.Set(k, s)
			}
		}
	}

	c.tags = append([]string{"url:" + c.url}, instance.Tags()...)

	transport := &http.Transport{}
	if instance.Bool("skip_ssl_validation") || (agentCfg != nil && agentCfg.SkipSSLValidation) {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	c.client = &http.Client{Timeout: c.timeout, Transport: transport}
	return nil
}

func (c *Check) Run(sender checks.Sender) error {
	req, err := http.NewRequest(c.method, c.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		sender.ServiceCheck(canConnectCheck, checks.StatusCritical, c.tags, err.Error())
		return nil
	}
	defer resp.Body.Close()

	sender.Gauge(responseTimeMetric, elapsed.Seconds(), c.tags, "")
	sender.ServiceCheck(canConnectCheck, checks.StatusOK, c.tags, "")

	status, message := c.evaluate(resp)
	sender.ServiceCheck(responseStatus, status, c.tags, message)
	return nil
}

// evaluate grades the response against the expected status code and body
// content. Without an explicit expectation any non-4xx/5xx status passes.
func (c *Check) evaluate(resp *http.Response) (checks.ServiceCheckStatus, string) {
	code := fmt.Sprintf("%d", resp.StatusCode)
	if c.expectedStatus != nil {
		if !c.expectedStatus.MatchString(code) {
			return checks.StatusCritical, fmt.Sprintf("status %s did not match expected pattern", code)
		}
	} else if resp.StatusCode >= 400 {
		return checks.StatusCritical, fmt.Sprintf("status %s", code)
	}

	if c.contentMatch != "" {
		// Read at most 1MB; a content match deeper than that is a config
		// problem, not something to stream for.
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return checks.StatusWarning, fmt.Sprintf("read body: %v", err)
		}
		if !strings.Contains(string(body), c.contentMatch) {
			return checks.StatusCritical, fmt.Sprintf("content %q not found in response", c.contentMatch)
		}
	}
	return checks.StatusOK, ""
}
