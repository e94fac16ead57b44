package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Provider request limits and defaults.
const (
	MaxReferenceImages = 14

	defaultGuidanceScale = 7.5
	defaultSteps         = 50

	defaultGenerateTimeout = 600 * time.Second
	referenceFetchTimeout  = 30 * time.Second
	defaultPollInterval    = 2 * time.Second

	modelPredictionsPath = "/v1/models/google/nano-banana-pro/predictions"
)

// ClientOptions configures a provider Client.
type ClientOptions struct {
	BaseURL      string
	APIToken     string
	HTTPClient   *http.Client
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Client calls the hosted generation provider. One Client is constructed per
// credential: the token is held in memory only and never persisted.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	pollInterval time.Duration
	logger       zerolog.Logger
}

// NewClient builds a provider client. The API token is required.
func NewClient(opts ClientOptions) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.replicate.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Client{
		httpClient:   httpClient,
		baseURL:      base,
		token:        strings.TrimSpace(opts.APIToken),
		pollInterval: interval,
		logger:       opts.Logger,
	}
}

type predictionRequest struct {
	Input map[string]any `json:"input"`
}

type prediction struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Output json.RawMessage   `json:"output"`
	Error  json.RawMessage   `json:"error"`
	URLs   map[string]string `json:"urls"`
	Detail string            `json:"detail"`
}

func (p *prediction) terminal() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

func (p *prediction) errorMessage() string {
	msg := strings.TrimSpace(string(p.Error))
	msg = strings.Trim(msg, `"`)
	if msg == "" || msg == "null" {
		msg = p.Detail
	}
	if msg == "" {
		msg = "provider reported failure"
	}
	return msg
}

// Generate submits a prediction and polls it to a terminal state. The call
// is bounded by the context deadline; a default of 600s applies when the
// caller did not set one.
func (c *Client) Generate(ctx context.Context, req Request) (Output, error) {
	if c.token == "" {
		return nil, errors.New("provider: API token is missing")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultGenerateTimeout)
		defer cancel()
	}

	input := c.buildInput(ctx, req)
	p, err := c.createPrediction(ctx, input)
	if err != nil {
		return nil, err
	}
	for !p.terminal() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("provider: generation timed out: %w", ctx.Err())
		case <-time.After(c.pollInterval):
		}
		p, err = c.getPrediction(ctx, p)
		if err != nil {
			return nil, err
		}
	}
	if p.Status != "succeeded" {
		return nil, fmt.Errorf("provider: prediction %s: %s", p.Status, p.errorMessage())
	}
	return AdaptOutput(p.Output, p.URLs), nil
}

func (c *Client) buildInput(ctx context.Context, req Request) map[string]any {
	prompt := req.Prompt
	if len(req.References) == 0 {
		prompt = AugmentTextToImage(prompt)
	}

	input := map[string]any{
		"prompt":       prompt,
		"resolution":   req.Resolution,
		"aspect_ratio": req.AspectRatio,
	}
	if req.NegativePrompt != "" {
		input["negative_prompt"] = req.NegativePrompt
	}
	// Provider defaults are omitted from the payload.
	if req.GuidanceScale != 0 && req.GuidanceScale != defaultGuidanceScale {
		input["guidance_scale"] = req.GuidanceScale
	}
	if req.Steps != 0 && req.Steps != defaultSteps {
		input["num_inference_steps"] = req.Steps
	}
	if req.Seed != nil {
		input["seed"] = *req.Seed
	}

	if len(req.References) > 0 {
		refs := req.References
		if len(refs) > MaxReferenceImages {
			refs = refs[:MaxReferenceImages]
		}
		var encoded []string
		for idx, ref := range refs {
			uri, err := c.encodeReference(ctx, ref)
			if err != nil {
				// One bad reference does not block the request.
				c.logger.Warn().Err(err).Int("reference", idx+1).Msg("provider: reference image skipped")
				continue
			}
			encoded = append(encoded, uri)
		}
		if len(encoded) > 0 {
			input["image_input"] = encoded
			input["prompt"] = AugmentWithReferences(req.Prompt, len(encoded))
		}
	}
	return input
}

// encodeReference fetches the reference if needed, optimizes it for the
// provider's limits and encodes it as a data URI.
func (c *Client) encodeReference(ctx context.Context, ref ReferenceImage) (string, error) {
	data := ref.Data
	if len(data) == 0 {
		if ref.URL == "" {
			return "", errors.New("empty reference")
		}
		fetched, err := c.fetchReference(ctx, ref.URL)
		if err != nil {
			return "", err
		}
		data = fetched
	}
	data = OptimizeReference(data)
	mime := ContentTypeFor(SniffFormat(data))
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (c *Client) fetchReference(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, referenceFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch reference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch reference: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) createPrediction(ctx context.Context, input map[string]any) (*prediction, error) {
	body, err := json.Marshal(predictionRequest{Input: input})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+modelPredictionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.doPrediction(req)
}

func (c *Client) getPrediction(ctx context.Context, p *prediction) (*prediction, error) {
	url := p.URLs["get"]
	if url == "" {
		url = c.baseURL + "/v1/predictions/" + p.ID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.doPrediction(req)
}

func (c *Client) doPrediction(req *http.Request) (*prediction, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	defer resp.Body.Close()

	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("provider: http %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("provider: decode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("provider: http %d: %s", resp.StatusCode, p.errorMessage())
	}
	return &p, nil
}
