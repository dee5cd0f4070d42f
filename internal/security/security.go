// Package security flags suspicious request paths and query strings
// (path traversal, null bytes, common SQL injection tokens) without
// blocking them: matches are annotated on the request context for the
// request logger to record as security alerts, the way the original
// request pipeline treats detection as advisory rather than a gate.
package security

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Finding describes one detected suspicious pattern.
type Finding struct {
	Category string // "path_traversal" | "null_byte" | "sql_injection" | "script_injection"
	Pattern  string
	Input    string
}

// maxDecodeRounds bounds percent-decoding so a maliciously repeated
// "%2525.." payload cannot force unbounded work; three rounds catches
// double- and triple-encoded traversal attempts seen in the wild without
// looping until fixpoint.
const maxDecodeRounds = 3

var sqlTokens = []string{
	"union select", "select * from", "drop table", "insert into",
	"' or '1'='1", "\" or \"1\"=\"1", "--", "/*", "xp_cmdshell",
}

var scriptTokens = []string{
	"<script", "javascript:", "onerror=", "onload=",
}

type contextKey struct{}

// Detect inspects a request's path and raw query for suspicious patterns
// and returns every finding. It never errors and never modifies the
// request: callers decide whether to log, alert, or ignore.
func Detect(r *http.Request) []Finding {
	var findings []Finding

	path := decodeRounds(r.URL.Path, maxDecodeRounds)
	query := decodeRounds(r.URL.RawQuery, maxDecodeRounds)

	if strings.Contains(path, "\x00") || strings.Contains(query, "\x00") {
		findings = append(findings, Finding{Category: "null_byte", Pattern: "\\x00", Input: path})
	}

	if strings.Contains(path, "../") || strings.Contains(path, "..\\") {
		findings = append(findings, Finding{Category: "path_traversal", Pattern: "..", Input: path})
	}

	lowerPath := strings.ToLower(path)
	lowerQuery := strings.ToLower(query)
	for _, tok := range sqlTokens {
		if strings.Contains(lowerPath, tok) || strings.Contains(lowerQuery, tok) {
			findings = append(findings, Finding{Category: "sql_injection", Pattern: tok, Input: path + "?" + query})
			break
		}
	}
	for _, tok := range scriptTokens {
		if strings.Contains(lowerPath, tok) || strings.Contains(lowerQuery, tok) {
			findings = append(findings, Finding{Category: "script_injection", Pattern: tok, Input: path + "?" + query})
			break
		}
	}

	return findings
}

// decodeRounds percent-decodes s up to n times, stopping early once a round
// makes no further progress (the input wasn't encoded at that depth).
func decodeRounds(s string, n int) string {
	for i := 0; i < n; i++ {
		decoded, err := url.QueryUnescape(s)
		if err != nil || decoded == s {
			return s
		}
		s = decoded
	}
	return s
}

// WithFindings attaches findings to ctx for downstream middleware (the
// request logger) to read without re-running detection.
func WithFindings(ctx context.Context, findings []Finding) context.Context {
	return context.WithValue(ctx, contextKey{}, findings)
}

// FindingsFromContext retrieves findings previously attached by
// WithFindings, or nil if none were attached.
func FindingsFromContext(ctx context.Context) []Finding {
	v, _ := ctx.Value(contextKey{}).([]Finding)
	return v
}

// Middleware runs Detect on every request and stashes the result on the
// request context before calling next, regardless of outcome.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		findings := Detect(r)
		if len(findings) > 0 {
			r = r.WithContext(WithFindings(r.Context(), findings))
		}
		next.ServeHTTP(w, r)
	})
}
