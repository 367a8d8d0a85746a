// Package transport carries distro peer calls over HTTP.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/soltixdb/distro/internal/codec"
	"github.com/soltixdb/distro/internal/compression"
	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/models"
)

// Peer API paths
const (
	PathPrefix   = "/distro"
	PathItems    = PathPrefix + "/items"
	PathAllItems = PathPrefix + "/all/items"
	PathChecksum = PathPrefix + "/checksum"
)

// Peer request headers
const (
	HeaderClientVersion = "Client-Version"
	HeaderIdentity      = "X-Distro-Identity"
	HeaderSource        = logging.PeerHeader
)

const (
	IdleConnTimeout       = 90 * time.Second
	TLSHandshakeTimeout   = 10 * time.Second
	ExpectContinueTimeout = time.Second
	KeepAlive             = 30 * time.Second
	MaxIdleConnsPerHost   = 32
)

// ErrEmptySnapshot is returned when a peer answers a snapshot request with
// no body
var ErrEmptySnapshot = errors.New("empty snapshot")

// StatusError is returned for peer responses with status 300 or above
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Config configures the HTTP transport
type Config struct {
	Self          string // sent as the source of every call
	Scheme        string // http (default) or https
	Timeout       time.Duration
	Codec         string
	Compression   string
	ClientVersion string
	Identity      string // shared secret, empty disables the header
}

// HTTP implements the distro peer calls with a pooled resty client
type HTTP struct {
	cfg        Config
	client     *resty.Client
	codec      codec.Codec
	compressor compression.Compressor
	logger     *logging.Logger
}

// New creates the transport
func New(cfg Config, logger *logging.Logger) (*HTTP, error) {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Codec == "" {
		cfg.Codec = "json"
	}
	if cfg.Compression == "" {
		cfg.Compression = string(compression.None)
	}

	c, err := codec.Get(cfg.Codec)
	if err != nil {
		return nil, err
	}
	comp, err := compression.GetCompressor(compression.Algorithm(cfg.Compression))
	if err != nil {
		return nil, err
	}

	t := &HTTP{
		cfg:        cfg,
		codec:      c,
		compressor: comp,
		logger:     logger,
	}
	t.client = t.createClient()
	return t, nil
}

func (t *HTTP) createClient() *resty.Client {
	r := resty.New()
	r.SetTimeout(t.cfg.Timeout)
	r.SetTransport(createTransport(t.cfg.Timeout))
	r.SetRetryCount(0) // the syncer owns retries
	r.SetHeader("User-Agent", t.cfg.ClientVersion)
	r.SetHeader(HeaderClientVersion, t.cfg.ClientVersion)
	r.SetHeader("Connection", "Keep-Alive")
	r.SetHeader(HeaderSource, t.cfg.Self)
	if t.cfg.Identity != "" {
		r.SetHeader(HeaderIdentity, t.cfg.Identity)
	}

	r.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		t.logger.Debug("Peer call",
			"method", res.Request.Method,
			"url", res.Request.URL,
			"status", res.StatusCode(),
			"duration", res.Time())
		return nil
	})
	return r
}

// createTransport returns a keep-alive pool sized for a handful of peers
func createTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: KeepAlive,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          MaxIdleConnsPerHost * 4,
		MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
		IdleConnTimeout:       IdleConnTimeout,
		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ExpectContinueTimeout: ExpectContinueTimeout,
	}
}

// Client exposes the underlying resty client
func (t *HTTP) Client() *resty.Client {
	return t.client
}

func (t *HTTP) url(target, path string) string {
	return t.cfg.Scheme + "://" + target + path
}

// encode marshals and compresses a request body
func (t *HTTP) encode(v any) ([]byte, error) {
	body, err := t.codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	body, err = t.compressor.Compress(body)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return body, nil
}

func (t *HTTP) newRequest(ctx context.Context) *resty.Request {
	req := t.client.R().SetContext(ctx)
	req.SetHeader("Accept", t.codec.ContentType())
	return req
}

func (t *HTTP) newBodyRequest(ctx context.Context, body []byte) *resty.Request {
	req := t.newRequest(ctx).
		SetHeader("Content-Type", t.codec.ContentType()).
		SetBody(body)
	if algo := t.compressor.Algorithm(); algo != compression.None {
		req.SetHeader("Content-Encoding", string(algo))
	}
	return req
}

// PushItems sends items to target. 304 Not Modified counts as success.
func (t *HTTP) PushItems(ctx context.Context, target string, items models.StoreItems) error {
	body, err := t.encode(items)
	if err != nil {
		return err
	}

	res, err := t.newBodyRequest(ctx, body).Put(t.url(target, PathItems))
	if err != nil {
		return fmt.Errorf("push items to %s: %w", target, err)
	}
	if res.StatusCode() == http.StatusNotModified {
		return nil
	}
	return checkStatus(res)
}

// FetchItems pulls the named keys of one store from target
func (t *HTTP) FetchItems(ctx context.Context, target, storeName string, keys []string) (models.Items, error) {
	res, err := t.newRequest(ctx).
		SetQueryParam("storeName", storeName).
		SetQueryParam("keys", strings.Join(keys, ",")).
		Get(t.url(target, PathItems))
	if err != nil {
		return nil, fmt.Errorf("fetch items from %s: %w", target, err)
	}
	if err := checkStatus(res); err != nil {
		return nil, err
	}

	var items models.Items
	if err := decodeResponse(res, &items); err != nil {
		return nil, fmt.Errorf("fetch items from %s: %w", target, err)
	}
	return items, nil
}

// FetchSnapshot pulls every store from target
func (t *HTTP) FetchSnapshot(ctx context.Context, target string) (models.StoreItems, error) {
	res, err := t.newRequest(ctx).Get(t.url(target, PathAllItems))
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot from %s: %w", target, err)
	}
	if err := checkStatus(res); err != nil {
		return nil, err
	}
	if len(res.Body()) == 0 {
		return nil, fmt.Errorf("fetch snapshot from %s: %w", target, ErrEmptySnapshot)
	}

	var snapshot models.StoreItems
	if err := decodeResponse(res, &snapshot); err != nil {
		return nil, fmt.Errorf("fetch snapshot from %s: %w", target, err)
	}
	if snapshot == nil {
		snapshot = models.StoreItems{}
	}
	return snapshot, nil
}

// PushChecksums sends this node's digest to target
func (t *HTTP) PushChecksums(ctx context.Context, target string, checksums models.Checksums) error {
	body, err := t.encode(checksums)
	if err != nil {
		return err
	}

	res, err := t.newBodyRequest(ctx, body).
		SetQueryParam("source", t.cfg.Self).
		Put(t.url(target, PathChecksum))
	if err != nil {
		return fmt.Errorf("push checksums to %s: %w", target, err)
	}
	return checkStatus(res)
}

func checkStatus(res *resty.Response) error {
	if res.StatusCode() < http.StatusMultipleChoices {
		return nil
	}
	return &StatusError{
		Method: res.Request.Method,
		URL:    res.Request.URL,
		Code:   res.StatusCode(),
		Body:   truncate(res.String(), 256),
	}
}

// decodeResponse honours the Content-Type and Content-Encoding of the reply
func decodeResponse(res *resty.Response, v any) error {
	c, err := codec.ForContentType(res.Header().Get("Content-Type"))
	if err != nil {
		return err
	}
	comp, err := compression.ForContentEncoding(res.Header().Get("Content-Encoding"))
	if err != nil {
		return err
	}

	body, err := comp.Decompress(res.Body())
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	if err := c.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// BaseURL returns the peer base URL for target, used by the owner proxy
func (t *HTTP) BaseURL(target string) string {
	u := url.URL{Scheme: t.cfg.Scheme, Host: target}
	return u.String()
}
