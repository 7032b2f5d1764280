// Package directory lists Lava providers and validators from the jsinfo REST API.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lava-reports/internal/node"
)

// ValidatorPrefix is the operator address prefix of Lava validators.
const ValidatorPrefix = "lava@valoper"

// Options parameterise the directory client.
type Options struct {
	ProvidersURL  string
	ValidatorsURL string
	Timeout       time.Duration
	UserAgent     string
}

// StakingSource lists validators straight from the chain.
type StakingSource interface {
	Validators(ctx context.Context) ([]node.Validator, error)
}

// Client fetches address lists.
type Client struct {
	opts    Options
	client  *http.Client
	staking StakingSource
	logger  zerolog.Logger
}

// New constructs a client.
func New(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "directory").Logger(),
	}
}

// WithStaking makes Validators fall back to the staking module when the REST
// directory cannot be read.
func (c *Client) WithStaking(src StakingSource) *Client {
	c.staking = src
	return c
}

// Providers returns every provider address.
func (c *Client) Providers(ctx context.Context) ([]string, error) {
	var resp struct {
		Providers []string `json:"providers"`
	}
	if err := c.get(ctx, c.opts.ProvidersURL, &resp); err != nil {
		return nil, fmt.Errorf("fetch providers: %w", err)
	}
	out := make([]string, 0, len(resp.Providers))
	for _, p := range resp.Providers {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	c.logger.Info().Int("count", len(out)).Msg("fetched providers")
	return out, nil
}

// Validators returns validator operator addresses, skipping malformed entries.
func (c *Client) Validators(ctx context.Context) ([]string, error) {
	var resp struct {
		Validators []struct {
			Address string `json:"address"`
		} `json:"validators"`
	}
	if err := c.get(ctx, c.opts.ValidatorsURL, &resp); err != nil {
		if c.staking == nil {
			return nil, fmt.Errorf("fetch validators: %w", err)
		}
		c.logger.Warn().Err(err).Msg("validator directory unavailable; listing from staking module")
		return c.stakingValidators(ctx, err)
	}
	out := make([]string, 0, len(resp.Validators))
	for _, v := range resp.Validators {
		if !strings.HasPrefix(v.Address, ValidatorPrefix) {
			c.logger.Debug().Str("address", v.Address).Msg("skipping non-validator address")
			continue
		}
		out = append(out, v.Address)
	}
	c.logger.Info().Int("count", len(out)).Msg("fetched validators")
	return out, nil
}

func (c *Client) get(ctx context.Context, url string, dst any) error {
	if url == "" {
		return fmt.Errorf("directory url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "lavareport/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}
	return nil
}

func (c *Client) stakingValidators(ctx context.Context, restErr error) ([]string, error) {
	validators, err := c.staking.Validators(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch validators: %w", errors.Join(restErr, err))
	}
	out := make([]string, 0, len(validators))
	for _, v := range validators {
		if strings.HasPrefix(v.OperatorAddress, ValidatorPrefix) {
			out = append(out, v.OperatorAddress)
		}
	}
	c.logger.Info().Int("count", len(out)).Msg("listed validators from staking module")
	return out, nil
}

var _ StakingSource = (*node.Chain)(nil)
