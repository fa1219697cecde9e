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
	"bytes"
	_ "embed"
	"html/template"
	"net/http"

	"github.com/uktrade/ipfilter-sidecar/internal/logger"
)

//go:embed access_denied.html.tmpl
var denialTemplateSource string

// DenialRenderer renders the 403 page shown for every denied request.
// It never varies its output by deny reason: the response body does
// not disclose which check failed.
type DenialRenderer struct {
	tmpl      *template.Template
	email     string
	emailName string
}

type denialData struct {
	Email     string
	EmailName string
}

// NewDenialRenderer parses the embedded template. A parse failure is a
// programming error, not an operational one, so it panics at start-up
// rather than surfacing as a runtime ConfigError.
func NewDenialRenderer(email, emailName string) *DenialRenderer {
	tmpl, err := template.New("access_denied").Parse(denialTemplateSource)
	if err != nil {
		panic("proxyhttp: invalid denial template: " + err.Error())
	}
	return &DenialRenderer{tmpl: tmpl, email: email, emailName: emailName}
}

// Render writes the 403 denial page to w. reason is never included in
// the response; it is the caller's job to log it separately.
func (d *DenialRenderer) Render(w http.ResponseWriter) {
	var buf bytes.Buffer
	if err := d.tmpl.Execute(&buf, denialData{Email: d.email, EmailName: d.emailName}); err != nil {
		logger.Error("failed to render denial page", "error", err)
		http.Error(w, "403 Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write(buf.Bytes())
}
