package media

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
)

var ErrUnexpectedStatus = errors.New("media: unexpected status")

// Content is an open media download. The caller must close Body.
type Content struct {
	Body        io.ReadCloser
	Size        int64 // -1 when the provider did not declare a length
	ContentType string
}

// NewHTTPClient returns a client shared by every fetch. There is no overall
// client timeout: headers are bounded by headerTimeout and the body by the
// caller's context, so long downloads keep streaming.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
	return &http.Client{Transport: tr}
}

// Fetcher downloads provider media. Safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	return &Fetcher{client: client, userAgent: userAgent}
}

// Fetch issues a GET for url. With a token, the request carries
// "Authorization: Bearer <token>" and the configured User-Agent. The body is
// returned unread.
func (f *Fetcher) Fetch(ctx context.Context, url, token string) (*Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if clean := CleanToken(token); clean != "" {
		req.Header.Set("Authorization", "Bearer "+clean)
		if f.userAgent != "" {
			req.Header.Set("User-Agent", f.userAgent)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return &Content{
		Body:        resp.Body,
		Size:        resp.ContentLength,
		ContentType: mediaType(resp.Header.Get("Content-Type")),
	}, nil
}

// CleanToken strips any leading "Bearer " prefixes (case-insensitive) and
// surrounding whitespace.
func CleanToken(token string) string {
	t := strings.TrimSpace(token)
	const prefix = "bearer "
	for len(t) >= len(prefix) && strings.EqualFold(t[:len(prefix)], prefix) {
		t = strings.TrimSpace(t[len(prefix):])
	}
	if strings.EqualFold(t, strings.TrimSpace(prefix)) {
		return ""
	}
	return t
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mt
}
