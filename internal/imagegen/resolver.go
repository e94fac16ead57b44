package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Herbiiiii/Nano-banana/internal/domain"
)

const resultFetchTimeout = 30 * time.Second

// Resolver collapses a provider Output into the canonical {bytes?, url?}
// result, guaranteeing at least one side is set or the generation is treated
// as failed.
type Resolver struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewResolver builds a Resolver. A nil httpClient falls back to a default
// client; timeouts are applied per fetch.
func NewResolver(httpClient *http.Client, logger zerolog.Logger) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Resolver{httpClient: httpClient, logger: logger}
}

// Resolve normalizes and validates the provider output.
//
// Candidate bytes are taken from the output when present, otherwise fetched
// from the candidate URL (fetch failure is non-fatal and degrades to a
// URL-only result). Bytes that fail the image validity probe are discarded,
// never persisted. When neither bytes nor a URL survive the generation fails
// with domain.ErrNoResult.
func (r *Resolver) Resolve(ctx context.Context, out Output) (Result, error) {
	data, url := r.candidates(out)

	if len(data) == 0 && url != "" {
		fetched, err := r.fetch(ctx, url)
		if err != nil {
			r.logger.Warn().Err(err).Str("url", url).Msg("resolver: result download failed, falling back to URL-only result")
		} else {
			data = fetched
		}
	}

	if len(data) > 0 && !ValidImage(data) {
		r.logger.Warn().Int("size", len(data)).Str("url", url).Msg("resolver: discarding invalid image payload")
		data = nil
	}

	switch {
	case len(data) > 0:
		return Result{Bytes: data, URL: url}, nil
	case url != "":
		return Result{URL: url}, nil
	}
	return Result{}, fmt.Errorf("%w: provider output yielded neither image bytes nor a URL", domain.ErrNoResult)
}

// candidates extracts candidate bytes and URL from the output union. For a
// streaming handle only the first non-empty yielded item is used, and the
// handle's own url accessor is preferred over one synthesized from items.
func (r *Resolver) candidates(out Output) ([]byte, string) {
	switch v := out.(type) {
	case *BytesOutput:
		return v.Data, v.URL
	case *URLOutput:
		return nil, v.Value
	case *StreamOutput:
		url := v.URL
		for _, item := range v.Items {
			switch inner := item.(type) {
			case *BytesOutput:
				if len(inner.Data) == 0 {
					continue
				}
				if url == "" {
					url = inner.URL
				}
				return inner.Data, url
			case *URLOutput:
				if inner.Value == "" {
					continue
				}
				if url == "" {
					url = inner.Value
				}
				return nil, url
			}
		}
		return nil, url
	}
	return nil, ""
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, resultFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
