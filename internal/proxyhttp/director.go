/*
 * Copyright 2024 Department for International Trade
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package proxyhttp is the sidecar's own HTTP surface: it classifies
// and authorises inbound requests, streams allowed ones to the origin,
// and renders the denial page for the rest.
package proxyhttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"github.com/uktrade/ipfilter-sidecar/internal/logger"
)

// hopByHopHeaders are stripped before forwarding in either direction,
// per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"TE",
	"Trailer",
	"Proxy-Authorization",
	"Proxy-Authenticate",
	"Upgrade",
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// forwardedForContextKey carries the inbound X-Forwarded-For value from
// Director through to xffPreservingTransport, past ReverseProxy's own
// append-client-IP step.
type forwardedForContextKey struct{}

const forwardedForHeader = "X-Forwarded-For"

// preserveForwardedFor stashes req's inbound X-Forwarded-For value in
// its context and nils the header entry so ReverseProxy.ServeHTTP's
// built-in "append RemoteAddr" step omits it entirely; xffPreservingTransport
// restores the original value right before the request is dialed. The
// fronting load balancer is authoritative for this header, so the
// sidecar must forward it byte-for-byte rather than let ReverseProxy
// append its own immediate peer address (the load balancer itself).
func preserveForwardedFor(req *http.Request) {
	original := req.Header.Get(forwardedForHeader)
	*req = *req.WithContext(context.WithValue(req.Context(), forwardedForContextKey{}, original))
	req.Header[forwardedForHeader] = nil
}

// xffPreservingTransport wraps a RoundTripper to put back the
// X-Forwarded-For value preserveForwardedFor stashed in the request
// context, overriding whatever ReverseProxy.ServeHTTP set in between.
type xffPreservingTransport struct {
	base http.RoundTripper
}

func (t *xffPreservingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if original, ok := req.Context().Value(forwardedForContextKey{}).(string); ok {
		if original != "" {
			req.Header.Set(forwardedForHeader, original)
		} else {
			req.Header.Del(forwardedForHeader)
		}
	}
	return t.base.RoundTrip(req)
}

// newReverseProxy builds an httputil.ReverseProxy targeting origin. It
// relies on ReverseProxy's default body-copying behaviour, which streams
// via io.Copy rather than buffering, and never rewrites Content-Length
// or injects chunked transfer-encoding when the client didn't ask for
// it, so responses are forwarded without being buffered or rechunked.
func newReverseProxy(origin *url.URL, connectTimeout, readTimeout time.Duration) *httputil.ReverseProxy {
	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = origin.Scheme
			req.URL.Host = origin.Host
			req.Host = origin.Host
			stripHopByHop(req.Header)
			preserveForwardedFor(req)
		},
		Transport: &xffPreservingTransport{
			base: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
				ResponseHeaderTimeout: readTimeout,
			},
		},
		ModifyResponse: func(resp *http.Response) error {
			stripHopByHop(resp.Header)
			return nil
		},
		ErrorHandler: originErrorHandler,
	}
	return proxy
}

// originErrorHandler maps a failed origin dispatch to a status code: a
// timed-out request (dial, TLS handshake, or response header wait)
// becomes 504, anything else (connection refused, DNS failure, client
// disconnect) becomes 502, matching the teacher's ProxyErrorHandler
// shape but splitting timeouts out onto their own status.
func originErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	if isTimeoutError(err) {
		status = http.StatusGatewayTimeout
	}
	logger.Error("proxy error", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<html><body><h1>%d %s</h1></body></html>", status, http.StatusText(status))
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if os.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func originURL(proto, server string) *url.URL {
	return &url.URL{Scheme: proto, Host: server}
}
