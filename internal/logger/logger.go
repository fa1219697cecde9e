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

// Package logger provides the leveled, structured logger used across the
// sidecar. Calls take a message followed by alternating key/value pairs,
// e.g. logger.Info("request denied", "reason", reason, "client_ip", ip).
package logger

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const traceLevel = "trace"

func Info(msg string, kv ...interface{}) {
	logMessage("info", msg, kv...)
}

func Warn(msg string, kv ...interface{}) {
	logMessage("warn", msg, kv...)
}

func Error(msg string, kv ...interface{}) {
	logMessage("error", msg, kv...)
}

// Fatal logs at error level and terminates the process with status 1.
func Fatal(msg string, kv ...interface{}) {
	log.SetOutput(os.Stderr)
	logWithCaller("error", msg, kv...)
	os.Exit(1)
}

func Debug(msg string, kv ...interface{}) {
	logMessage("debug", msg, kv...)
}

func Trace(msg string, kv ...interface{}) {
	logMessage("trace", msg, kv...)
}

func logMessage(level, msg string, kv ...interface{}) {
	if shouldLog(level, getLogLevel()) {
		log.SetOutput(getStd(os.Getenv("SIDECAR_LOG_FILE")))
		logWithCaller(level, msg, kv...)
	}
}

func shouldLog(level, currentLevel string) bool {
	order := map[string]int{
		"trace": 1,
		"debug": 2,
		"info":  3,
		"warn":  4,
		"error": 5,
		"off":   6,
	}
	return order[strings.ToLower(level)] >= order[strings.ToLower(currentLevel)]
}

func logWithCaller(level, msg string, kv ...interface{}) {
	formatted := formatFields(msg, kv...)

	if getLogLevel() == traceLevel {
		_, file, line, ok := runtime.Caller(2)
		if !ok {
			file = "unknown"
			line = 0
		}
		log.Printf("%s: %s (File: %s, Line: %d)\n", strings.ToUpper(level), formatted, file, line)
		return
	}
	log.Printf("%s: %s\n", strings.ToUpper(level), formatted)
}

func formatFields(msg string, kv ...interface{}) string {
	if len(kv) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	i := 0
	for ; i+1 < len(kv); i += 2 {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprintf("%v", kv[i]))
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(fmt.Sprintf("%v", kv[i+1])))
	}
	if i < len(kv) {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprintf("%v", kv[i]))
	}
	return b.String()
}

func quoteIfNeeded(v string) string {
	if strings.ContainsAny(v, " \t\"") {
		return strconv.Quote(v)
	}
	return v
}

func getStd(out string) *os.File {
	switch strings.ToLower(out) {
	case "", "stdout", "/dev/stdout":
		return os.Stdout
	case "stderr", "/dev/stderr":
		return os.Stderr
	default:
		f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return os.Stdout
		}
		return f
	}
}

func getLogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return strings.ToLower(level)
}
