// Copyright 2024 The Heliosphere Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package fetch implements the source fetcher (C2, spec.md §4.2): one
// HTTP GET against the screenshot endpoint, with bounded retries, magic
// byte validation, and an optional caching-proxy wrapper (spec.md §6).
//
// The teacher's design note (spec.md §9) calls for "a native HTTP
// client with explicit timeouts, connection pooling, and body-size
// limits" in place of shelling out to curl; that is exactly what this
// package does, using http.Client/http.Transport from the standard
// library plus github.com/cenkalti/backoff/v4 for the retry loop
// (grounded on GoogleContainerTools/skaffold's go.mod, which depends on
// it for the same kind of bounded-retry concern).
package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/watkajtys/heliosphere-sub001/internal/errkind"
	"github.com/watkajtys/heliosphere-sub001/internal/layer"
	"github.com/watkajtys/heliosphere-sub001/internal/metrics"
)

// RawImage is an opaque byte sequence plus its content hash and the
// timestamp the source actually returned (spec.md §3 "Raw image").
type RawImage struct {
	Bytes         []byte
	Hash          string
	ResolvedTime  time.Time
}

// magicPNG and magicJPEG are the header bytes validated against every
// response body (spec.md §4.2).
var (
	magicPNG  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
)

// Option configures a Client, following the teacher's stdpool.Option
// functional-options idiom.
type Option func(*Client)

// WithProxy routes every request through a caching proxy: the original
// URL is passed as the proxy's "url" query parameter, as specified in
// spec.md §6.
func WithProxy(proxyBaseURL string) Option {
	return func(c *Client) { c.proxyBaseURL = proxyBaseURL }
}

// WithHTTPClient overrides the underlying *http.Client, primarily for
// tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff overrides the fixed backoff between retries.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithMinFrameSize overrides the minimum valid response body size.
func WithMinFrameSize(n int64) Option {
	return func(c *Client) { c.minFrameSize = n }
}

// Client fetches raw source images over HTTP.
type Client struct {
	baseURL      string
	proxyBaseURL string
	http         *http.Client
	maxRetries   int
	backoff      time.Duration
	minFrameSize int64
}

// NewClient constructs a Client against baseURL (e.g.
// "https://api.helioviewer.org"), applying a connect timeout of
// connectTimeout and a total per-request timeout of totalTimeout, both
// bounded by spec.md §4.2 (<=10s, <=30s respectively).
func NewClient(baseURL string, connectTimeout, totalTimeout time.Duration, opts ...Option) *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		baseURL:      baseURL,
		http:         &http.Client{Transport: transport, Timeout: totalTimeout},
		maxRetries:   3,
		backoff:      2 * time.Second,
		minFrameSize: 4096,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves a single source image for layer l at instant, with
// retries on transient failures up to maxRetries, fixed backoff between
// attempts (spec.md §4.2).
func (c *Client) Fetch(ctx context.Context, l layer.Layer, instant time.Time) (RawImage, error) {
	start := time.Now()
	label := l.String()

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.backoff), uint64(c.maxRetries))
	bo = backoff.WithContext(bo, ctx)

	var result RawImage
	operation := func() error {
		metrics.FetchAttemptsTotal.WithLabelValues(label).Inc()
		raw, err := c.fetchOnce(ctx, l, instant)
		if err != nil {
			metrics.FetchErrorsTotal.WithLabelValues(label).Inc()
			if errors.Is(err, errkind.ErrPermanentFetch) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = raw
		return nil
	}

	err := backoff.Retry(operation, bo)
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return RawImage{}, perm.Err
		}
		return RawImage{}, errors.Wrap(errkind.ErrPermanentFetch, err.Error())
	}

	metrics.FetchDurationSeconds.WithLabelValues(label).Observe(time.Since(start).Seconds())
	return result, nil
}

func (c *Client) fetchOnce(ctx context.Context, l layer.Layer, instant time.Time) (RawImage, error) {
	reqURL, err := c.buildURL(l, instant)
	if err != nil {
		return RawImage{}, errors.Wrap(errkind.ErrPermanentFetch, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return RawImage{}, errors.Wrap(errkind.ErrPermanentFetch, err.Error())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.WithFields(log.Fields{"layer": l, "instant": instant, "err": err}).Debug("fetch: transient network error")
		return RawImage{}, errors.Wrap(errkind.ErrTransientFetch, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return RawImage{}, errors.Wrapf(errkind.ErrTransientFetch, "server error: %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return RawImage{}, errors.Wrapf(errkind.ErrPermanentFetch, "client error: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.minFrameSize*64))
	if err != nil {
		return RawImage{}, errors.Wrap(errkind.ErrTransientFetch, err.Error())
	}

	if int64(len(body)) < c.minFrameSize {
		return RawImage{}, errors.Wrapf(errkind.ErrTransientFetch, "undersized body: %d bytes", len(body))
	}
	if !hasPNGMagic(body) && !hasJPEGMagic(body) {
		return RawImage{}, errors.Wrap(errkind.ErrPermanentFetch, "response body is not PNG or JPEG")
	}

	sum := sha256.Sum256(body)
	return RawImage{
		Bytes:        body,
		Hash:         hex.EncodeToString(sum[:]),
		ResolvedTime: instant,
	}, nil
}

// buildURL constructs the takeScreenshot request URL for a layer and
// instant (spec.md §6), wrapping it in the caching-proxy form when
// ProxyBaseURL is configured.
func (c *Client) buildURL(l layer.Layer, instant time.Time) (string, error) {
	p := layer.ParamsFor(l)
	v := url.Values{}
	v.Set("date", instant.UTC().Format(time.RFC3339))
	v.Set("layers", fmt.Sprintf("[%d,1,100]", p.SourceID))
	v.Set("imageScale", fmt.Sprintf("%g", p.ImageScale))
	v.Set("width", fmt.Sprintf("%d", p.Width))
	v.Set("height", fmt.Sprintf("%d", p.Height))
	v.Set("x0", "0")
	v.Set("y0", "0")
	v.Set("display", "true")
	v.Set("watermark", "false")

	original := fmt.Sprintf("%s/v2/takeScreenshot/?%s", c.baseURL, v.Encode())
	if c.proxyBaseURL == "" {
		return original, nil
	}

	proxied := url.Values{}
	proxied.Set("url", original)
	return fmt.Sprintf("%s/?%s", c.proxyBaseURL, proxied.Encode()), nil
}

func hasPNGMagic(b []byte) bool {
	return len(b) >= len(magicPNG) && bytes.Equal(b[:len(magicPNG)], magicPNG)
}

func hasJPEGMagic(b []byte) bool {
	return len(b) >= len(magicJPEG) && bytes.Equal(b[:len(magicJPEG)], magicJPEG)
}

// Ping implements diag.Pingable: a lightweight liveness check that
// confirms the base URL at least parses.
func (c *Client) Ping(context.Context) error {
	if _, err := url.Parse(c.baseURL); err != nil {
		return errors.Wrap(err, "fetch: invalid base URL")
	}
	return nil
}
