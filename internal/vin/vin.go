// Package vin decodes Vehicle Identification Numbers through the public
// vPIC REST API, with decoded results cached for seven days since a VIN's
// specification never changes.
package vin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/driveline-ai/driveline/internal/config"
	"github.com/driveline-ai/driveline/internal/domain"
)

// ErrDecodeFailed is returned when the decoder cannot produce a usable result
// for a structurally valid VIN.
var ErrDecodeFailed = errors.New("vin: decode failed")

// Result is the decoded vehicle specification.
type Result struct {
	VIN       string `json:"vin"`
	Year      int    `json:"year"`
	Make      string `json:"make"`
	Model     string `json:"model"`
	Trim      string `json:"trim,omitempty"`
	BodyClass string `json:"body_class,omitempty"`
	Engine    string `json:"engine,omitempty"`
	FuelType  string `json:"fuel_type,omitempty"`
}

// Cache is the slice of the session store the decoder needs.
type Cache interface {
	CacheVIN(ctx context.Context, vin string, decoded json.RawMessage) error
	GetCachedVIN(ctx context.Context, vin string) (json.RawMessage, bool, error)
}

// Decoder resolves VINs against the configured endpoint. Safe for concurrent
// use.
type Decoder struct {
	endpoint   string
	httpClient *http.Client
	cache      Cache
}

// New creates a Decoder. cache may be nil, in which case every lookup goes
// upstream.
func New(cfg config.VINConfig, cache Cache) (*Decoder, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("vin: endpoint must not be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Decoder{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
	}, nil
}

// Decode normalizes raw and resolves it to a vehicle specification, serving
// from cache when possible. Cache failures degrade to an upstream lookup
// rather than failing the call.
func (d *Decoder) Decode(ctx context.Context, raw string) (*Result, error) {
	vin, err := domain.NormalizeVIN(raw)
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		cached, hit, err := d.cache.GetCachedVIN(ctx, vin)
		if err != nil {
			slog.Warn("vin cache read failed", "error", err)
		} else if hit {
			var res Result
			if err := json.Unmarshal(cached, &res); err == nil {
				return &res, nil
			}
			slog.Warn("vin cache entry corrupt, refetching", "vin", vin)
		}
	}

	res, err := d.fetch(ctx, vin)
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		encoded, err := json.Marshal(res)
		if err == nil {
			if err := d.cache.CacheVIN(ctx, vin, encoded); err != nil {
				slog.Warn("vin cache write failed", "error", err)
			}
		}
	}
	return res, nil
}

// fetch performs the upstream vPIC lookup.
func (d *Decoder) fetch(ctx context.Context, vin string) (*Result, error) {
	u := fmt.Sprintf("%s/%s?format=json", d.endpoint, url.PathEscape(vin))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("vin: build request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vin: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vin: fetch: status %d: %s", resp.StatusCode, raw)
	}

	var payload struct {
		Results []struct {
			ModelYear   string `json:"ModelYear"`
			Make        string `json:"Make"`
			Model       string `json:"Model"`
			Trim        string `json:"Trim"`
			BodyClass   string `json:"BodyClass"`
			EngineModel string `json:"EngineModel"`
			FuelType    string `json:"FuelTypePrimary"`
			ErrorCode   string `json:"ErrorCode"`
		} `json:"Results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("vin: decode response: %w", err)
	}
	if len(payload.Results) == 0 {
		return nil, ErrDecodeFailed
	}

	r := payload.Results[0]
	if r.Make == "" && r.Model == "" {
		return nil, ErrDecodeFailed
	}

	res := &Result{
		VIN:       vin,
		Make:      r.Make,
		Model:     r.Model,
		Trim:      r.Trim,
		BodyClass: r.BodyClass,
		Engine:    r.EngineModel,
		FuelType:  r.FuelType,
	}
	if year, err := strconv.Atoi(r.ModelYear); err == nil {
		res.Year = year
	}
	return res, nil
}
