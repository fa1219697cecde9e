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

// Package profile fetches named configuration profiles from the local
// config agent and decodes them into ruleset fragments.
package profile

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"gopkg.in/yaml.v3"

	"github.com/uktrade/ipfilter-sidecar/internal/ruleset"
)

// FetchError reports that a named profile could not be retrieved or
// decoded. The refresher treats it as a per-profile failure: log WARN,
// keep the prior Snapshot, retry next cycle.
type FetchError struct {
	Profile string
	Cause   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch profile %q: %s", e.Profile, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// document is the decoded wire shape of a profile's YAML body. Any
// top-level key may be absent; unknown keys are ignored by the decoder.
type document struct {
	IpRanges    []string        `yaml:"IpRanges"`
	BasicAuth   []basicAuthWire `yaml:"BasicAuth"`
	SharedToken []tokenWire     `yaml:"SharedToken"`
}

type basicAuthWire struct {
	Path     string `yaml:"Path"`
	Username string `yaml:"Username"`
	Password string `yaml:"Password"`
}

type tokenWire struct {
	HeaderName string `yaml:"HeaderName"`
	Value      string `yaml:"Value"`
}

// Fetcher retrieves profiles from the config agent over HTTP.
type Fetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewFetcher builds a Fetcher against baseURL, using timeout as the
// per-request deadline (the refresher applies its own per-profile
// timeout via context, so this is a defensive floor).
func NewFetcher(baseURL string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves and decodes a single named profile. name is split on
// ":" into application, environment and configuration segments.
func (f *Fetcher) Fetch(profileName string) (ruleset.RuleFragment, error) {
	parts := strings.SplitN(profileName, ":", 3)
	if len(parts) != 3 {
		return ruleset.RuleFragment{}, &FetchError{
			Profile: profileName,
			Cause:   fmt.Errorf("expected <application>:<environment>:<configuration>, got %q", profileName),
		}
	}

	url := fmt.Sprintf("%s/applications/%s/environments/%s/configurations/%s",
		f.BaseURL, parts[0], parts[1], parts[2])

	resp, err := f.Client.Get(url)
	if err != nil {
		return ruleset.RuleFragment{}, &FetchError{Profile: profileName, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ruleset.RuleFragment{}, &FetchError{Profile: profileName, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ruleset.RuleFragment{}, &FetchError{
			Profile: profileName,
			Cause:   fmt.Errorf("agent returned status %d", resp.StatusCode),
		}
	}

	var doc document
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return ruleset.RuleFragment{}, &FetchError{Profile: profileName, Cause: err}
	}

	return decode(profileName, doc), nil
}

// decode converts the wire document into a RuleFragment, dropping
// malformed individual entries with a warning rather than failing the
// whole fetch. Credential and token values may reference the sidecar's
// own environment (e.g. "${SHARED_TOKEN}") so operators can keep
// secrets out of the profile body; these are expanded before storage.
func decode(profileName string, doc document) ruleset.RuleFragment {
	var frag ruleset.RuleFragment

	for i, cidr := range doc.IpRanges {
		r, err := ruleset.ParseIpRange(cidr)
		if err != nil {
			ruleset.LogDroppedCIDR(profileName, i, cidr, err)
			continue
		}
		frag.IpRanges = append(frag.IpRanges, r)
	}

	for _, e := range doc.BasicAuth {
		frag.BasicAuth = append(frag.BasicAuth, ruleset.BasicAuthEntry{
			PathPrefix: e.Path,
			Username:   goutils.ReplaceEnvVars(e.Username),
			Password:   goutils.ReplaceEnvVars(e.Password),
		})
	}

	for _, t := range doc.SharedToken {
		frag.SharedToken = append(frag.SharedToken, ruleset.SharedTokenEntry{
			HeaderName: t.HeaderName,
			Value:      goutils.ReplaceEnvVars(t.Value),
		})
	}

	return frag
}
