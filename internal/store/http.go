package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/winton/unstorage/internal/keyspace"
)

// HTTPOptions configures the HTTP driver.
type HTTPOptions struct {
	Options
	// Headers are added to every request, e.g. for authentication
	Headers map[string]string
	// Timeout bounds each request; defaults to 10s
	Timeout time.Duration
}

// httpDriver talks to a storage server (see internal/server) over HTTP.
//
// Items live under <url>/items/<key> and listing under <url>/keys?prefix=.
type httpDriver struct {
	baseURL string
	headers map[string]string
	timeout time.Duration
	client  *http.Client
	ns      keyspace.Namespace
	life    *lifecycle
}

// NewHTTPDriver creates a driver for the storage server at rawURL
func NewHTTPDriver(ctx context.Context, rawURL string, opts HTTPOptions) (Driver, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid http driver url %q", rawURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	h := &httpDriver{
		baseURL: strings.TrimSuffix(u.String(), "/"),
		headers: opts.Headers,
		timeout: timeout,
		ns:      keyspace.NewNamespace(opts.Base),
	}
	h.life = newLifecycle(opts.logger("http"), h.connect, func() error {
		h.client.CloseIdleConnections()
		return nil
	})
	if err := h.life.start(ctx, opts.LazyConnect); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *httpDriver) connect(ctx context.Context) error {
	h.client = &http.Client{Timeout: h.timeout}
	resp, err := h.do(ctx, http.MethodGet, h.baseURL+"/healthz", nil)
	if err != nil {
		h.client.CloseIdleConnections()
		return transportErr("http", "connect", "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		h.client.CloseIdleConnections()
		return transportErr("http", "connect", "", statusError(resp))
	}
	return nil
}

func (h *httpDriver) Name() string { return "http" }

func (h *httpDriver) Capabilities() Capabilities {
	return Capabilities{Binary: true, List: true}
}

func (h *httpDriver) Close() error {
	return h.life.close()
}

func (h *httpDriver) itemURL(key string) string {
	return h.baseURL + "/items/" + url.PathEscape(h.ns.Physical(key))
}

func (h *httpDriver) keysURL(prefix string) string {
	return h.baseURL + "/keys?" + url.Values{"prefix": {h.ns.Physical(prefix)}}.Encode()
}

func (h *httpDriver) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.client.Do(req)
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}

func (h *httpDriver) Has(ctx context.Context, key string) (bool, error) {
	if err := h.life.ready(ctx); err != nil {
		return false, err
	}
	resp, err := h.do(ctx, http.MethodHead, h.itemURL(key), nil)
	if err != nil {
		return false, transportErr("http", "has", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, transportErr("http", "has", key, statusError(resp))
	}
}

func (h *httpDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if err := h.life.ready(ctx); err != nil {
		return nil, err
	}
	resp, err := h.do(ctx, http.MethodGet, h.itemURL(key), nil)
	if err != nil {
		return nil, transportErr("http", "get", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		value, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, transportErr("http", "get", key, err)
		}
		return value, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, transportErr("http", "get", key, statusError(resp))
	}
}

// exec runs a request whose response body is ignored.
func (h *httpDriver) exec(ctx context.Context, op, key, method, target string, body []byte) error {
	if err := h.life.ready(ctx); err != nil {
		return err
	}
	resp, err := h.do(ctx, method, target, body)
	if err != nil {
		return transportErr("http", op, key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return transportErr("http", op, key, statusError(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (h *httpDriver) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return h.exec(ctx, "set", key, http.MethodPut, h.itemURL(key), value)
}

func (h *httpDriver) Remove(ctx context.Context, key string) error {
	return h.exec(ctx, "remove", key, http.MethodDelete, h.itemURL(key), nil)
}

func (h *httpDriver) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := h.life.ready(ctx); err != nil {
		return nil, err
	}
	resp, err := h.do(ctx, http.MethodGet, h.keysURL(prefix), nil)
	if err != nil {
		return nil, transportErr("http", "keys", prefix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, transportErr("http", "keys", prefix, statusError(resp))
	}
	var physical []string
	if err := json.NewDecoder(resp.Body).Decode(&physical); err != nil {
		return nil, transportErr("http", "keys", prefix, fmt.Errorf("failed to decode key list: %w", err))
	}
	return h.ns.Filter(physical, prefix), nil
}

func (h *httpDriver) Clear(ctx context.Context, prefix string) error {
	return h.exec(ctx, "clear", prefix, http.MethodDelete, h.keysURL(prefix), nil)
}
