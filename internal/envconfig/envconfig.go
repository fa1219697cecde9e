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

// Package envconfig resolves the sidecar's effective configuration from
// the process environment. It follows the per-environment overlay
// pattern of the original Python sidecar: a global variable NAME can be
// shadowed by <ENV>_NAME, where ENV is the upper-cased environment name.
package envconfig

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Env wraps the process environment and resolves values with the
// per-environment overlay. It holds no mutable state beyond the snapshot
// taken at construction, so it is safe to share after Load.
type Env struct {
	vars        map[string]string
	environment string
}

// Load captures the process environment. environmentKey names the
// variable that carries the current environment name (COPILOT_ENVIRONMENT_NAME).
func Load(environmentKey string) (*Env, error) {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			vars[kv[:i]] = kv[i+1:]
		}
	}

	envName, ok := vars[environmentKey]
	if !ok || envName == "" {
		return nil, &ConfigError{Var: environmentKey, Reason: "required and not set"}
	}

	return &Env{vars: vars, environment: envName}, nil
}

// ConfigError reports a missing or malformed required configuration
// variable. The CLI treats it as fatal: log and exit non-zero.
type ConfigError struct {
	Var    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Var, e.Reason)
}

// get resolves name with the per-environment overlay: <ENV>_<NAME>
// (including an explicit empty string) wins over NAME, which wins over
// absent.
func (e *Env) get(name string) (string, bool) {
	overridden := strings.ToUpper(e.environment) + "_" + name
	if v, ok := e.vars[overridden]; ok {
		return v, true
	}
	if v, ok := e.vars[name]; ok {
		return v, true
	}
	return "", false
}

// String resolves a string variable, returning def when absent.
func (e *Env) String(name, def string) string {
	if v, ok := e.get(name); ok {
		return v
	}
	return def
}

// Required resolves a string variable, returning a ConfigError when absent.
func (e *Env) Required(name string) (string, error) {
	v, ok := e.get(name)
	if !ok || v == "" {
		return "", &ConfigError{Var: name, Reason: "required and not set"}
	}
	return v, nil
}

// Int resolves an integer variable, returning def when absent or
// unparseable.
func (e *Env) Int(name string, def int) int {
	v, ok := e.get(name)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return i
}

// Bool resolves a boolean variable. "True"/"true"/"1" is true; anything
// else resolves to false rather than falling back to def.
func (e *Env) Bool(name string, def bool) bool {
	v, ok := e.get(name)
	if !ok {
		return def
	}
	switch v {
	case "True", "true", "1":
		return true
	default:
		return false
	}
}

// List resolves a comma-separated variable. An explicitly empty string
// yields an empty (non-nil) list, distinguishing "set but empty" from
// "absent", which yields def.
func (e *Env) List(name string, def []string) []string {
	v, ok := e.get(name)
	if !ok {
		return def
	}
	if v == "" {
		return []string{}
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// URL resolves a variable and parses it as a URL, using def when the
// variable is absent. A value that does not parse returns an error.
func (e *Env) URL(name, def string) (*url.URL, error) {
	raw := e.String(name, def)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid URL %q: %w", name, raw, err)
	}
	return u, nil
}

// Name returns the resolved environment name (COPILOT_ENVIRONMENT_NAME).
func (e *Env) Name() string {
	return e.environment
}
