package collector

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxPageBytes bounds how much of a status page is read.
const maxPageBytes = 4 << 20

// errPageTooLarge marks a status page cut off at the size limit. Slots past
// the cut would be missing, so the device is failed instead.
var errPageTooLarge = errors.New("status page too large")

// ProberConfig controls how a single device is queried.
type ProberConfig struct {
	Scheme NamingScheme
	Policy Policy
	// Timeout bounds the whole request including the body read.
	Timeout time.Duration
	// InsecureSkipVerify disables TLS certificate checks for https targets.
	InsecureSkipVerify bool
	// DefaultScheme is prefixed to addresses that carry no scheme.
	DefaultScheme string
	UserAgent     string
	// MaxPageBytes caps the status page size; zero means 4 MiB.
	MaxPageBytes int64
	// Client overrides the HTTP client built from the fields above.
	Client *http.Client
	// Now is the clock used for result timestamps.
	Now func() time.Time
}

// DefaultProberConfig returns the stock settings:
// plain HTTP, 10 second timeout, self-signed certificates accepted.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Scheme:             DefaultNamingScheme(),
		Policy:             DefaultPolicy(),
		Timeout:            10 * time.Second,
		InsecureSkipVerify: true,
		DefaultScheme:      "http",
		UserAgent:          "fleetscan",
	}
}

// Prober fetches one device's status page and turns it into a DeviceResult.
type Prober struct {
	cfg    ProberConfig
	client *http.Client
	now    func() time.Time
}

// NewProber builds a Prober. Zero fields in cfg fall back to the defaults.
func NewProber(cfg ProberConfig) *Prober {
	def := DefaultProberConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if strings.TrimSpace(cfg.DefaultScheme) == "" {
		cfg.DefaultScheme = def.DefaultScheme
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxPageBytes <= 0 {
		cfg.MaxPageBytes = maxPageBytes
	}
	cfg.Scheme = cfg.Scheme.withDefaults()

	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					// #nosec G402 -- controlled by probe.insecure_skip_verify:
					// printer web servers ship self-signed certificates.
					InsecureSkipVerify: cfg.InsecureSkipVerify,
				},
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Prober{cfg: cfg, client: client, now: now}
}

// Config returns the effective configuration.
func (p *Prober) Config() ProberConfig {
	return p.cfg
}

// Probe issues exactly one GET to the device and never returns an error: any
// failure is recorded on the result with status error.
func (p *Prober) Probe(ctx context.Context, seq int, dev DeviceRecord) DeviceResult {
	res := DeviceResult{
		DeviceRecord: dev,
		SequenceID:   seq,
		Consumables:  []ConsumableReading{},
	}

	readings, err := p.fetchAndParse(ctx, dev.Address)
	res.Timestamp = p.now().Truncate(time.Second)
	if err != nil {
		var pe *ProbeError
		if !errors.As(err, &pe) {
			pe = unexpectedError(err)
		}
		res.Status = StatusError
		res.ErrorKind = pe.Kind
		res.ErrorMessage = pe.Error()
		pkgLogger.Debug("Probe failed", "device", dev.DisplayName, "address", dev.Address, "kind", pe.Kind, "error", pe.Err)
		return res
	}

	res.Consumables = readings
	res.Status = p.cfg.Policy.Evaluate(readings)
	pkgLogger.Debug("Probe complete", "device", dev.DisplayName, "address", dev.Address, "status", res.Status, "supplies", len(readings))
	return res
}

func (p *Prober) fetchAndParse(ctx context.Context, address string) (readings []ConsumableReading, err error) {
	target, err := TargetURL(address, p.cfg.DefaultScheme)
	if err != nil {
		return nil, networkError(err)
	}

	page, err := p.fetch(ctx, target)
	if errors.Is(err, errPageTooLarge) {
		return nil, unexpectedError(err)
	}
	if err != nil {
		return nil, networkError(err)
	}

	defer func() {
		if r := recover(); r != nil {
			readings = nil
			err = unexpectedError(fmt.Errorf("panic: %v", r))
		}
	}()

	raw, perr := Extract(bytes.NewReader(page), p.cfg.Scheme)
	if perr != nil {
		return nil, unexpectedError(perr)
	}
	return Readings(raw), nil
}

func (p *Prober) fetch(ctx context.Context, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("%s returned %s", target, resp.Status)
	}

	limit := p.cfg.MaxPageBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", errPageTooLarge, limit)
	}
	return body, nil
}

// TargetURL turns an inventory address into the status page URL. Addresses
// that already carry a scheme are used as-is.
func TargetURL(address, defaultScheme string) (string, error) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return "", errors.New("empty address")
	}
	if !strings.Contains(addr, "://") {
		if defaultScheme == "" {
			defaultScheme = "http"
		}
		addr = defaultScheme + "://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid address %q: no host", address)
	}
	return u.String(), nil
}
