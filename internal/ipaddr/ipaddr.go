// Package ipaddr resolves the host's current public IP address.
package ipaddr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pion/stun/v3"

	"netmon/pkg/logx"
)

// maxBodyBytes bounds the HTTP response read; plain-text IP endpoints answer
// with a few dozen bytes at most.
const maxBodyBytes = 256

// Config selects the lookup sources.
type Config struct {
	// URL is a plain-text endpoint returning the caller's address.
	URL string
	// STUNServers are tried in order when the HTTP source fails.
	STUNServers []string
	// Timeout bounds each individual lookup attempt.
	Timeout time.Duration
}

// Resolver fetches the public address over HTTP and falls back to STUN when
// the HTTP source is unreachable. The zero value is not usable; construct
// with NewResolver.
type Resolver struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(cfg Config, log logx.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With(logx.String("component", "ipaddr")),
	}
}

// Lookup returns the public IP address as a string. The HTTP source is
// authoritative; STUN only answers when HTTP fails, so a flapping HTTP
// endpoint cannot make the address appear to change.
func (r *Resolver) Lookup(ctx context.Context) (string, error) {
	addr, httpErr := r.fromHTTP(ctx)
	if httpErr == nil {
		return addr, nil
	}
	r.log.Debug("http lookup failed, falling back to stun",
		logx.String("url", r.cfg.URL), logx.Err(httpErr))

	addr, stunErr := r.fromSTUN(ctx)
	if stunErr == nil {
		return addr, nil
	}
	return "", errors.Join(httpErr, stunErr)
}

func (r *Resolver) fromHTTP(ctx context.Context) (string, error) {
	if strings.TrimSpace(r.cfg.URL) == "" {
		return "", errors.New("no http source configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: unexpected status %s", r.cfg.URL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}

	addr := strings.TrimSpace(string(body))
	if net.ParseIP(addr) == nil {
		return "", fmt.Errorf("%s: not an ip address: %q", r.cfg.URL, addr)
	}
	return addr, nil
}

func (r *Resolver) fromSTUN(ctx context.Context) (string, error) {
	if len(r.cfg.STUNServers) == 0 {
		return "", errors.New("no stun servers configured")
	}

	var lastErr error
	for _, server := range r.cfg.STUNServers {
		addr, err := stunQuery(ctx, server, r.cfg.Timeout)
		if err != nil {
			lastErr = err
			r.log.Debug("stun query failed",
				logx.String("server", server), logx.Err(err))
			continue
		}
		return addr, nil
	}
	return "", lastErr
}

// stunQuery asks one STUN server for the XOR-mapped address and returns its
// IP part. The mapped port belongs to the probe socket and is discarded.
func stunQuery(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", errors.New("empty stun server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case addr := <-result:
		return addr.IP.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
