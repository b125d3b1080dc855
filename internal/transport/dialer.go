package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// Dialer opens handles. Open never blocks: the outcome is reported to sink
// as SignalOpened or SignalFailed.
type Dialer interface {
	Open(ctx context.Context, rawURL, credential string, sink Sink) *Handle
}

// WSDialer is the gorilla/websocket Dialer.
type WSDialer struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer
	header http.Header
}

// NewDialer creates a gorilla-backed Dialer.
func NewDialer(cfg Config, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TokenParam == "" {
		cfg.TokenParam = DefaultConfig().TokenParam
	}

	var header http.Header
	if cfg.UserAgent != "" {
		header = http.Header{"User-Agent": {cfg.UserAgent}}
	}

	return &WSDialer{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		header: header,
	}
}

// Open starts connecting to rawURL and returns the handle immediately.
func (d *WSDialer) Open(ctx context.Context, rawURL, credential string, sink Sink) *Handle {
	h := newHandle(ctx, d.cfg, sink, d.logger)

	target, err := BuildURL(rawURL, d.cfg.TokenParam, credential)
	if err != nil {
		go func() {
			h.emit(Signal{Kind: SignalFailed, Err: err})
			close(h.done)
		}()
		return h
	}

	go h.dial(d.dialer, target, d.header)
	return h
}

// BuildURL validates rawURL and appends the credential as a query parameter.
func BuildURL(rawURL, param, credential string) (string, error) {
	if rawURL == "" {
		return "", ErrEmptyURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURL, u.Scheme)
	}
	if credential != "" {
		q := u.Query()
		q.Set(param, credential)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
