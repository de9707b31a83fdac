package distmon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// resolver tracks the address set of the remote write host so the manager
// knows when to rebuild its client
type resolver struct {
	cfg    DNSConfig
	host   string
	logger *zap.Logger
	client *http.Client

	mutex       sync.Mutex
	resolved    []string
	lastResolve time.Time
	cache       map[string]dnsCacheEntry
}

type dnsCacheEntry struct {
	ips     []string
	expires time.Time
}

// resolveThrottle is the minimum gap between unforced lookups
const resolveThrottle = time.Minute

func newResolver(cfg DNSConfig, host string, logger *zap.Logger) *resolver {
	return &resolver{
		cfg:    cfg,
		host:   host,
		logger: logger,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  make(map[string]dnsCacheEntry),
	}
}

// refreshable reports whether the host is a name worth re-resolving
func (r *resolver) refreshable() bool {
	return r.host != "" && net.ParseIP(r.host) == nil
}

// refresh re-resolves the host and reports whether the caller should rebuild
// connections: the address set changed, or force was set and a lookup succeeded
func (r *resolver) refresh(ctx context.Context, force bool) bool {
	if !r.refreshable() {
		return false
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !force && time.Since(r.lastResolve) < resolveThrottle {
		return false
	}

	if ce, ok := r.cache[r.host]; ok && !force && time.Now().Before(ce.expires) {
		r.lastResolve = time.Now()
		if slices.Equal(ce.ips, r.resolved) {
			return false
		}
		r.resolved = ce.ips
		r.logger.Info("dns cache hit, address set changed",
			zap.String("host", r.host), zap.Strings("ips", ce.ips))
		return true
	}

	ips, err := r.lookup(ctx)
	r.lastResolve = time.Now()
	if err != nil || len(ips) == 0 {
		r.logger.Warn("dns lookup failed", zap.String("host", r.host), zap.Error(err))
		return false
	}

	changed := !slices.Equal(ips, r.resolved)
	r.resolved = ips
	if r.cfg.Enable {
		r.cache[r.host] = dnsCacheEntry{ips: ips, expires: time.Now().Add(r.cfg.CacheTTL)}
	}
	if changed {
		r.logger.Info("dns address set changed",
			zap.String("host", r.host), zap.Strings("ips", ips))
	}
	return changed || force
}

// lookup uses the system resolver unless custom resolvers are enabled, in
// which case every configured resolver races the system one
func (r *resolver) lookup(ctx context.Context) ([]string, error) {
	if !r.cfg.Enable {
		return systemLookup(ctx, r.host)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	queries := []func(context.Context) ([]string, error){
		func(ctx context.Context) ([]string, error) { return systemLookup(ctx, r.host) },
	}
	for _, srv := range r.cfg.UDPServers {
		s := srv
		queries = append(queries, func(ctx context.Context) ([]string, error) {
			return exchange(ctx, r.host, s, "udp", r.cfg.Timeout)
		})
	}
	for _, srv := range r.cfg.TLSServers {
		s := srv
		queries = append(queries, func(ctx context.Context) ([]string, error) {
			return exchange(ctx, r.host, s, "tcp-tls", r.cfg.Timeout)
		})
	}
	for _, ep := range r.cfg.DoHEndpoints {
		e := ep
		queries = append(queries, func(ctx context.Context) ([]string, error) {
			return exchangeDoH(ctx, r.client, r.host, e)
		})
	}

	type result struct {
		ips []string
		err error
	}
	ch := make(chan result, len(queries))
	for _, q := range queries {
		q := q
		go func() {
			ips, err := q(ctx)
			ch <- result{ips, err}
		}()
	}

	var firstErr error
	for range queries {
		select {
		case res := <-ch:
			if res.err == nil && len(res.ips) > 0 {
				return res.ips, nil
			}
			if firstErr == nil {
				firstErr = res.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if firstErr == nil {
		firstErr = errors.New("no dns result")
	}
	return nil, firstErr
}

func systemLookup(ctx context.Context, host string) ([]string, error) {
	netIPs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	ips := make([]string, 0, len(netIPs))
	for _, ip := range netIPs {
		ips = append(ips, ip.String())
	}
	return ips, nil
}

func question(host string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	return m
}

// exchange queries a classic resolver over udp or tcp-tls
func exchange(ctx context.Context, host, server, network string, timeout time.Duration) ([]string, error) {
	c := &dns.Client{Net: network, Timeout: timeout}
	r, _, err := c.ExchangeContext(ctx, question(host), server)
	if err != nil {
		return nil, fmt.Errorf("%s dns %s: %w", network, server, err)
	}
	return answerIPs(r)
}

// exchangeDoH queries a DNS-over-HTTPS endpoint with a wire format POST
func exchangeDoH(ctx context.Context, client *http.Client, host, endpoint string) ([]string, error) {
	payload, err := question(host).Pack()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh %s: status %d", endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var msg dns.Msg
	if err := msg.Unpack(body); err != nil {
		return nil, fmt.Errorf("doh %s: %w", endpoint, err)
	}
	return answerIPs(&msg)
}

func answerIPs(msg *dns.Msg) ([]string, error) {
	if msg == nil {
		return nil, errors.New("empty dns response")
	}
	if msg.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns rcode %s", dns.RcodeToString[msg.Rcode])
	}
	ips := make([]string, 0, len(msg.Answer))
	for _, ans := range msg.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips, nil
}
