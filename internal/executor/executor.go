package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// runtimeVersions pins the execution environment per supported language.
var runtimeVersions = map[string]string{
	"javascript": "18.15.0",
	"python":     "3.10.0",
	"java":       "17.0.2",
	"cpp":        "10.2.0",
	"go":         "1.16.2",
	"csharp":     "5.0.201",
	"ruby":       "3.0.1",
}

// ErrUnsupportedLanguage is returned for languages outside the runtime table.
var ErrUnsupportedLanguage = fmt.Errorf("executor: unsupported language")

type Config struct {
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client calls the remote code-execution API. Every failure here is soft: the
// verifier downgrades to offline comparison, so callers must never treat an
// error from Run as fatal to the session.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(c Config) *Client {
	hc := c.HTTPClient
	if hc == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: c.BaseURL,
		http:    hc,
	}
}

// Result holds the captured output of one remote run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type executeRequest struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []executeFile `json:"files"`
}

type executeFile struct {
	Content string `json:"content"`
}

type executeResponse struct {
	Run *struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Code   int    `json:"code"`
	} `json:"run"`
	Message string `json:"message"`
}

// Run executes source remotely and returns its captured output.
func (c *Client) Run(ctx context.Context, language, source string) (Result, error) {
	version, ok := runtimeVersions[language]
	if !ok {
		return Result{}, ErrUnsupportedLanguage
	}

	body, err := json.Marshal(executeRequest{
		Language: language,
		Version:  version,
		Files:    []executeFile{{Content: source}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("executor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("executor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("executor: execute: %w", err)
	}
	defer resp.Body.Close()

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("executor: decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("executor: status %d: %s", resp.StatusCode, out.Message)
	}

	// A response without run output is as useless as a network error.
	if out.Run == nil {
		return Result{}, fmt.Errorf("executor: response missing run output")
	}

	return Result{
		Stdout:   out.Run.Stdout,
		Stderr:   out.Run.Stderr,
		ExitCode: out.Run.Code,
	}, nil
}

// SupportedLanguages lists the languages the runtime table covers.
func SupportedLanguages() []string {
	langs := make([]string, 0, len(runtimeVersions))
	for l := range runtimeVersions {
		langs = append(langs, l)
	}
	return langs
}
