// Package rates resolves exchange rates into the home currency.
//
// Rates come from a primary and a fallback HTTP source serving the
// fawazahmed0 currency-api payload, and are cached in memory for a TTL.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"accountant/internal/cache"
	"accountant/internal/core"
	applog "accountant/internal/log"
)

const (
	DefaultPrimaryURL  = "https://cdn.jsdelivr.net/npm/@fawazahmed0/currency-api@latest/v1/currencies/{currency}.json"
	DefaultFallbackURL = "https://latest.currency-api.pages.dev/v1/currencies/{currency}.json"
	DefaultTTL         = time.Hour

	// DefaultFetchTimeout caps one shared lookup across both sources.
	DefaultFetchTimeout = 25 * time.Second

	// Placeholder replaced by the lower-case currency code in source URLs.
	CurrencyPlaceholder = "{currency}"

	maxCachedCurrencies = 512
)

var errNoRate = errors.New("no usable rate in payload")

// Config configures a Cache. Zero values fall back to the defaults above.
type Config struct {
	HomeCurrency string
	PrimaryURL   string
	FallbackURL  string
	TTL          time.Duration
	HTTPClient   *http.Client
	Clock        func() time.Time
	FetchTimeout time.Duration
	Logger       *applog.Logger
}

// Result is the outcome of ConvertToHome. When Success is false, Amount is
// the unconverted input and Err says why.
type Result struct {
	Amount  decimal.Decimal
	Rate    decimal.Decimal
	Success bool
	Err     error
}

type source struct {
	name string
	url  string
}

// Cache is safe for concurrent use. Concurrent misses for the same currency
// share one upstream fetch, which outlives the caller that started it.
type Cache struct {
	home         string // lower-case
	sources      []source
	client       *http.Client
	rates        *cache.LRU[decimal.Decimal]
	group        singleflight.Group
	fetchTimeout time.Duration
	logger       *applog.Logger
}

func New(cfg Config) *Cache {
	if cfg.HomeCurrency == "" {
		cfg.HomeCurrency = "AMD"
	}
	if cfg.PrimaryURL == "" {
		cfg.PrimaryURL = DefaultPrimaryURL
	}
	if cfg.FallbackURL == "" {
		cfg.FallbackURL = DefaultFallbackURL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = applog.New(applog.DefaultConfig())
	}
	var opts []cache.Option
	if cfg.Clock != nil {
		opts = append(opts, cache.WithClock(cfg.Clock))
	}
	return &Cache{
		home: strings.ToLower(cfg.HomeCurrency),
		sources: []source{
			{name: "primary", url: cfg.PrimaryURL},
			{name: "fallback", url: cfg.FallbackURL},
		},
		client:       cfg.HTTPClient,
		rates:        cache.NewLRU[decimal.Decimal](maxCachedCurrencies, cfg.TTL, opts...),
		fetchTimeout: cfg.FetchTimeout,
		logger:       cfg.Logger.WithComponent(applog.ComponentRates),
	}
}

// Home returns the home currency code, upper-cased.
func (c *Cache) Home() string {
	return strings.ToUpper(c.home)
}

// Store exposes the underlying cache so a cache.Manager can evict stale rates.
func (c *Cache) Store() cache.Sweeper {
	return c.rates
}

// IsSupportedCurrency is the syntactic currency check. Whether a rate exists
// is only known once a source is asked.
func IsSupportedCurrency(code string) bool {
	return core.IsCurrencyCode(code)
}

// Rate returns how many home units one unit of code is worth.
func (c *Cache) Rate(ctx context.Context, code string) (decimal.Decimal, error) {
	if !IsSupportedCurrency(code) {
		return decimal.Zero, fmt.Errorf("%w: %q", core.ErrCurrencyUnsupported, code)
	}
	cur := strings.ToLower(code)
	if cur == c.home {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := c.rates.Get(cur); ok {
		return r, nil
	}

	// The first caller's deadline must not fail everyone waiting on the flight.
	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan(cur, func() (any, error) {
		if r, ok := c.rates.Get(cur); ok {
			return r, nil
		}
		fctx, cancel := context.WithTimeout(flight, c.fetchTimeout)
		defer cancel()
		r, err := c.fetch(fctx, cur)
		if err != nil {
			return nil, err
		}
		c.rates.Put(cur, r)
		return r, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	case <-ctx.Done():
		return decimal.Zero, fmt.Errorf("%w for %s: %w", core.ErrRateUnavailable, strings.ToUpper(cur), ctx.Err())
	}
}

// ConvertToHome converts amount of code into whole home units.
func (c *Cache) ConvertToHome(ctx context.Context, amount decimal.Decimal, code string) Result {
	if strings.EqualFold(code, c.home) {
		return Result{Amount: amount, Rate: decimal.NewFromInt(1), Success: true}
	}
	rate, err := c.Rate(ctx, code)
	if err != nil {
		return Result{Amount: amount, Err: err}
	}
	return Result{
		Amount:  amount.Mul(rate).Round(0),
		Rate:    rate,
		Success: true,
	}
}

func (c *Cache) fetch(ctx context.Context, cur string) (decimal.Decimal, error) {
	var errs []error
	for _, src := range c.sources {
		rate, err := c.fetchFrom(ctx, src, cur)
		if err == nil {
			c.logger.DebugContext(ctx, "Fetched exchange rate",
				"source", src.name,
				applog.FieldCurrency, strings.ToUpper(cur),
				"rate", rate.String())
			return rate, nil
		}
		c.logger.WarnContext(ctx, "Exchange rate source failed",
			"source", src.name,
			applog.FieldCurrency, strings.ToUpper(cur),
			applog.FieldError, err)
		errs = append(errs, fmt.Errorf("%s: %w", src.name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return decimal.Zero, fmt.Errorf("%w for %s: %w", core.ErrRateUnavailable, strings.ToUpper(cur), errors.Join(errs...))
}

func (c *Cache) fetchFrom(ctx context.Context, src source, cur string) (decimal.Decimal, error) {
	addr := strings.ReplaceAll(src.url, CurrencyPlaceholder, url.PathEscape(cur))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decimal.Zero, fmt.Errorf("get %s: unexpected status %d", addr, resp.StatusCode)
	}

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode payload: %w", err)
	}
	return c.extract(payload, cur)
}

// extract reads payload[cur][home].
func (c *Cache) extract(payload any, cur string) (decimal.Decimal, error) {
	path := fmt.Sprintf("$.%s.%s", cur, c.home)
	jval, err := jsonpath.Get(path, payload)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", errNoRate, path, err)
	}
	// jsonpath may wrap a single answer in a list
	if jlist, ok := jval.([]any); ok && len(jlist) > 0 {
		jval = jlist[0]
	}

	var rate decimal.Decimal
	switch v := jval.(type) {
	case float64:
		rate = decimal.NewFromFloat(v)
	case string:
		rate, err = decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s is %q", errNoRate, path, v)
		}
	default:
		return decimal.Zero, fmt.Errorf("%w: %s is %T", errNoRate, path, jval)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s is %s", errNoRate, path, rate)
	}
	return rate, nil
}
