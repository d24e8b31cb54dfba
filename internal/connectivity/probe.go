package connectivity

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Prober performs one lightweight reachability request and reports its latency.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// LinkState reports the platform's view of the network link.
type LinkState interface {
	Up() bool
}

// HTTPProber issues a HEAD request to a small, cache-busting endpoint.
// Any HTTP response counts as reachable; only transport failures do not.
type HTTPProber struct {
	client *http.Client
	url    string
}

func NewHTTPProber(client *http.Client, url string) *HTTPProber {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProber{client: client, url: url}
}

func (p *HTTPProber) Probe(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return time.Since(start), nil
}

// InterfaceLinkState treats the link as up when any non-loopback interface
// is up and has an address assigned.
type InterfaceLinkState struct{}

func (InterfaceLinkState) Up() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		// Unknown link state falls through to the network probe.
		return true
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
