package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/niftyrun/internal/cache"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/instruments"
)

// Option chain sources
const (
	SourceMock      = "mock"
	SourceSensibull = "sensibull"
	SourceNeutral   = "neutral"
)

// OptionChainProvider returns the option-chain summary for an index.
// Implementations never fail: an unavailable upstream yields the neutral summary.
type OptionChainProvider interface {
	Snapshot(ctx context.Context, index string) domain.OptionChainSummary
}

// MockProvider returns fixed demo values
type MockProvider struct{}

func (MockProvider) Snapshot(_ context.Context, index string) domain.OptionChainSummary {
	log.Info().Str("index", index).Str("source", SourceMock).Msg("option_chain_snapshot")
	return domain.OptionChainSummary{
		PCR:     domain.Float(1.05),
		MaxPain: domain.Float(24600),
		OITrend: domain.String("CE_unwind PE_build"),
	}
}

// NeutralProvider always returns the all-nil summary
type NeutralProvider struct{}

func (NeutralProvider) Snapshot(context.Context, string) domain.OptionChainSummary {
	return domain.NeutralOptionChain()
}

// APISymbol maps an index to the option-chain API symbol
func APISymbol(index string) string {
	if index == instruments.NIFTY50 {
		return "NIFTY"
	}
	return index
}

// HTTPConfig configures the HTTP option-chain provider
type HTTPConfig struct {
	BaseURL  string
	Auth     string
	Timeout  time.Duration
	CacheTTL time.Duration
	RPS      float64
}

// HTTPProvider fetches option-chain snapshots over HTTP. Requests are rate
// limited and go through a circuit breaker; responses are cached for CacheTTL.
type HTTPProvider struct {
	client  *resty.Client
	headers map[string]string
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cache   *cache.ChainCache
}

// chainPayload accepts both camelCase and snake_case upstream field names
type chainPayload struct {
	PCR          *float64          `json:"pcr"`
	MaxPain      *float64          `json:"maxPain"`
	MaxPainSnake *float64          `json:"max_pain"`
	OITrend      *string           `json:"oiTrend"`
	OITrendSnake *string           `json:"oi_trend"`
	ATM          *domain.ATMDetail `json:"atm"`
}

func (p chainPayload) summary() domain.OptionChainSummary {
	s := domain.OptionChainSummary{PCR: p.PCR, MaxPain: p.MaxPain, OITrend: p.OITrend, ATM: p.ATM}
	if s.MaxPain == nil {
		s.MaxPain = p.MaxPainSnake
	}
	if s.OITrend == nil {
		s.OITrend = p.OITrendSnake
	}
	return s
}

// NewHTTPProvider creates a provider. Summaries are cached in c for
// cfg.CacheTTL; a nil c or a zero TTL disables caching.
func NewHTTPProvider(cfg HTTPConfig, c cache.Cache) *HTTPProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.sensibull.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "option_chain",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("option chain circuit breaker state change")
		},
	})

	return &HTTPProvider{
		client:  client,
		headers: AuthHeaders(cfg.Auth),
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		cache:   cache.NewChainCache(c, cfg.CacheTTL),
	}
}

// AuthHeaders turns "Bearer <token>" or "cookie: <cookies>" into request headers
func AuthHeaders(auth string) map[string]string {
	switch {
	case strings.HasPrefix(auth, "cookie:"):
		return map[string]string{"Cookie": strings.TrimSpace(strings.TrimPrefix(auth, "cookie:"))}
	case strings.HasPrefix(auth, "Bearer "):
		return map[string]string{"Authorization": auth}
	}
	return map[string]string{}
}

// BreakerState reports the circuit breaker state
func (p *HTTPProvider) BreakerState() string {
	return p.breaker.State().String()
}

// Snapshot fetches and normalizes the option chain, returning the neutral
// summary on any failure
func (p *HTTPProvider) Snapshot(ctx context.Context, index string) domain.OptionChainSummary {
	symbol := APISymbol(index)

	if e, ok := p.cache.Get(ctx, symbol); ok {
		log.Info().Str("index", index).Str("source", SourceSensibull).Bool("cached", true).
			Dur("age", p.cache.Age(e)).Msg("option_chain_snapshot")
		return e.Summary
	}

	s, err := p.fetch(ctx, symbol)
	if err != nil {
		log.Info().Str("index", index).Err(err).Msg("option_chain_snapshot_error")
		return domain.NeutralOptionChain()
	}

	p.cache.Put(ctx, symbol, s)
	log.Info().Str("index", index).Str("source", SourceSensibull).Msg("option_chain_snapshot")
	return s
}

func (p *HTTPProvider) fetch(ctx context.Context, symbol string) (domain.OptionChainSummary, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.OptionChainSummary{}, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := p.breaker.Execute(func() (interface{}, error) {
		resp, err := p.client.R().
			SetContext(ctx).
			SetHeaders(p.headers).
			SetQueryParam("symbol", symbol).
			Get("/v1/option-chain")
		if err != nil {
			return nil, fmt.Errorf("option chain request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("option chain API error %d", resp.StatusCode())
		}
		return resp.Body(), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.OptionChainSummary{}, fmt.Errorf("option chain circuit open: %w", err)
		}
		return domain.OptionChainSummary{}, err
	}

	return decodeChain(body.([]byte))
}

// decodeChain parses an option-chain body, repairing malformed JSON once
func decodeChain(body []byte) (domain.OptionChainSummary, error) {
	var p chainPayload
	if err := json.Unmarshal(body, &p); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(string(body))
		if rerr != nil {
			return domain.OptionChainSummary{}, fmt.Errorf("failed to parse option chain: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &p); err != nil {
			return domain.OptionChainSummary{}, fmt.Errorf("failed to parse repaired option chain: %w", err)
		}
	}
	return p.summary(), nil
}

// NewOptionChainProvider selects a provider by source name
func NewOptionChainProvider(source string, cfg HTTPConfig, c cache.Cache) (OptionChainProvider, error) {
	switch source {
	case SourceMock, "":
		return MockProvider{}, nil
	case SourceNeutral:
		return NeutralProvider{}, nil
	case SourceSensibull, "http":
		return NewHTTPProvider(cfg, c), nil
	}
	return nil, fmt.Errorf("unknown option chain source %q", source)
}
