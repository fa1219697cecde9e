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

package proxyhttp

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/uktrade/ipfilter-sidecar/internal/authengine"
	"github.com/uktrade/ipfilter-sidecar/internal/logger"
)

// correlationID returns the inbound correlation header if present,
// falling back to a freshly generated UUID.
func correlationID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	if id := r.Header.Get("X-Correlation-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// logAccess emits the structured access-log line for every request.
// Log level for denials defaults to INFO; fetch failures and
// configuration warnings (logged elsewhere) are WARN.
func logAccess(r *http.Request, decision authengine.Decision, classifierBypassed bool, upstreamStatus int, bytesWritten int64, elapsed time.Duration, snapshotVersion uint64, clientAbort bool) {
	clientIP := r.Header.Get("X-Forwarded-For")
	if decision.ClientIP != nil {
		clientIP = decision.ClientIP.String()
	}

	fields := []interface{}{
		"client_ip", clientIP,
		"method", r.Method,
		"path", r.URL.Path,
		"elapsed_ms", elapsed.Milliseconds(),
		"snapshot_version", snapshotVersion,
		"correlation_id", correlationID(r),
	}

	switch {
	case clientAbort:
		fields = append(fields, "decision", "client_abort")
		logger.Info("request aborted by client", fields...)
	case classifierBypassed:
		fields = append(fields, "decision", "Bypass", "upstream_status", upstreamStatus, "bytes", bytesWritten)
		logger.Info("request bypassed authorisation", fields...)
	case decision.Allowed:
		fields = append(fields, "decision", "Allow", "upstream_status", upstreamStatus, "bytes", bytesWritten)
		logger.Info("request allowed", fields...)
	default:
		fields = append(fields, "decision", "Deny", "reason", string(decision.Reason))
		logger.Info("request denied", fields...)
	}
}

// countingResponseWriter counts bytes written and captures the status
// code without buffering the body, preserving the proxy's streaming
// behaviour.
type countingResponseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *countingResponseWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Flush forwards to an underlying http.Flusher so streamed/chunked
// upstream responses (e.g. SSE) are not buffered at this layer.
func (w *countingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
