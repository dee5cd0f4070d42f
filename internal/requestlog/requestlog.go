// Package requestlog writes one JSON line per proxied/backend request to a
// per-backend log file, rotating and gzip-compressing it once it crosses a
// configured size, and keeps an in-memory running tally mirrored into
// Prometheus counters for dashboards. Grounded on the teacher's
// request-logging middleware's statusWriter capture and on the rolling
// log-file rotate/retain pattern used for request logs elsewhere in the
// pack, adapted from SQLite rotation to flat gzip-archived JSON lines.
package requestlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nilsbr/rushd/internal/apperr"
	"github.com/nilsbr/rushd/internal/logger"
	"github.com/nilsbr/rushd/internal/security"
)

// Entry is one logged request, redacted of sensitive header values before
// it is ever written to disk.
type Entry struct {
	Timestamp   time.Time         `json:"timestamp"`
	RequestID   string            `json:"request_id"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Status      int               `json:"status"`
	BytesOut    int               `json:"bytes_out"`
	DurationMS  int64             `json:"duration_ms"`
	RemoteIP    string            `json:"remote_ip"`
	UserAgent   string            `json:"user_agent"`
	SecurityHit []string          `json:"security_findings,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

var redactedHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
	"set-cookie":    true,
}

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rushd_requests_total",
		Help: "Total requests logged, by backend and status class.",
	}, []string{"backend", "status_class"})
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rushd_request_duration_seconds",
		Help:    "Request handling duration in seconds, by backend.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})
	securityAlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rushd_security_alerts_total",
		Help: "Suspicious requests detected, by category.",
	}, []string{"backend", "category"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, securityAlertsTotal)
}

// Stats is a running in-memory tally for one backend's request log.
type Stats struct {
	mu            sync.Mutex
	TotalRequests int64
	TotalBytes    int64
	StatusCounts  map[int]int64
	SecurityHits  int64
}

func newStats() *Stats {
	return &Stats{StatusCounts: make(map[int]int64)}
}

// Snapshot returns a copy of the stats safe to read without further locking.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[int]int64, len(s.StatusCounts))
	for k, v := range s.StatusCounts {
		counts[k] = v
	}
	return Stats{TotalRequests: s.TotalRequests, TotalBytes: s.TotalBytes, StatusCounts: counts, SecurityHits: s.SecurityHits}
}

// Logger writes request log entries for one backend to a rotating,
// gzip-archived JSON-lines file.
type Logger struct {
	backendName string

	mu           sync.Mutex
	path         string
	maxBytes     int64
	maxArchives  int
	compress     bool
	logRequests  bool
	logSecurity  bool
	file         *os.File
	writer       *bufio.Writer
	currentBytes int64

	stats *Stats
	log   logger.Logger
}

// Config controls a Logger's rotation and feature toggles, mirroring the
// config package's [logging] section.
type Config struct {
	MaxFileSizeMB     int
	MaxArchiveFiles   int
	CompressArchives  bool
	LogRequests       bool
	LogSecurityAlerts bool
}

// New opens (creating if needed) the log file at path for backendName.
func New(path, backendName string, cfg Config, log logger.Logger) (*Logger, error) {
	l := &Logger{
		backendName: backendName,
		path:        path,
		maxBytes:    int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		maxArchives: cfg.MaxArchiveFiles,
		compress:    cfg.CompressArchives,
		logRequests: cfg.LogRequests,
		logSecurity: cfg.LogSecurityAlerts,
		stats:       newStats(),
		log:         log,
	}
	if l.maxBytes <= 0 {
		l.maxBytes = 10 * 1024 * 1024
	}
	if l.maxArchives <= 0 {
		l.maxArchives = 5
	}
	if err := l.openFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) openFile() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return apperr.Wrap(apperr.ErrInternal, "create log dir", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.ErrInternal, "open log file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return apperr.Wrap(apperr.ErrInternal, "stat log file", err)
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	l.currentBytes = info.Size()
	return nil
}

// Write appends entry as a JSON line, redacting configured headers,
// rotating the file first if it would exceed maxBytes.
func (l *Logger) Write(entry Entry) error {
	if !l.logRequests {
		return nil
	}
	redact(entry.Headers)

	line, err := json.Marshal(entry)
	if err != nil {
		return apperr.Wrap(apperr.ErrInternal, "marshal log entry", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentBytes+int64(len(line)) > l.maxBytes {
		if err := l.rotateLocked(); err != nil {
			l.log.Warn("rotate request log failed", logger.Error(err))
		}
	}

	n, err := l.writer.Write(line)
	if err != nil {
		return apperr.Wrap(apperr.ErrInternal, "write log entry", err)
	}
	if err := l.writer.Flush(); err != nil {
		return apperr.Wrap(apperr.ErrInternal, "flush log writer", err)
	}
	l.currentBytes += int64(n)

	l.recordStats(entry)
	l.mirrorMetrics(entry)
	return nil
}

func redact(headers map[string]string) {
	for k := range headers {
		if redactedHeaders[strings.ToLower(k)] {
			headers[k] = "[FILTERED]"
		}
	}
}

func (l *Logger) recordStats(entry Entry) {
	l.stats.mu.Lock()
	defer l.stats.mu.Unlock()
	l.stats.TotalRequests++
	l.stats.TotalBytes += int64(entry.BytesOut)
	l.stats.StatusCounts[entry.Status]++
	if len(entry.SecurityHit) > 0 {
		l.stats.SecurityHits++
	}
}

func (l *Logger) mirrorMetrics(entry Entry) {
	class := fmt.Sprintf("%dxx", entry.Status/100)
	requestsTotal.WithLabelValues(l.backendName, class).Inc()
	requestDuration.WithLabelValues(l.backendName).Observe(float64(entry.DurationMS) / 1000.0)
	if l.logSecurity {
		for _, category := range entry.SecurityHit {
			securityAlertsTotal.WithLabelValues(l.backendName, category).Inc()
		}
	}
}

// Stats returns a snapshot of this logger's running counters.
func (l *Logger) Stats() Stats { return l.stats.Snapshot() }

// WriteRawTo copies the active log file's current contents to w, flushing
// any buffered writes first so a tail immediately after a write is never
// missing its last line.
func (l *Logger) WriteRawTo(w io.Writer) error {
	l.mu.Lock()
	if err := l.writer.Flush(); err != nil {
		l.mu.Unlock()
		return apperr.Wrap(apperr.ErrInternal, "flush before read", err)
	}
	path := l.path
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return apperr.Wrap(apperr.ErrInternal, "open log file", err)
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}

// rotateLocked closes the active file, shifts existing .N.log/.N.log.gz
// archives up by one index (compressing .1.log into .2.log.gz as it
// shifts, since only .1.log is ever kept uncompressed), renames the
// just-closed file to .1.log, prunes whatever shifts beyond maxArchives,
// and reopens a fresh active file. Caller must hold l.mu.
func (l *Logger) rotateLocked() error {
	if err := l.writer.Flush(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return err
	}

	base := strings.TrimSuffix(l.path, ".log")

	if err := l.shiftArchivesLocked(base); err != nil {
		l.log.Warn("shift log archives failed", logger.Error(err))
	}

	archivePath, _ := l.archivePath(base, 1)
	if err := os.Rename(l.path, archivePath); err != nil {
		return apperr.Wrap(apperr.ErrInternal, "rename log archive", err)
	}

	return l.openFile()
}

// archivePath returns the on-disk name for archive index i. Index 1 is
// always uncompressed (it was just closed this rotation); every higher
// index is gzip-compressed when compression is enabled, matching the
// on-disk layout "{n}-[{p}].log (+ .1.log, .2.log.gz, …)".
func (l *Logger) archivePath(base string, i int) (path string, compressed bool) {
	if i <= 1 || !l.compress {
		return fmt.Sprintf("%s.%d.log", base, i), false
	}
	return fmt.Sprintf("%s.%d.log.gz", base, i), true
}

// shiftArchivesLocked renames every existing archive from index i to
// i+1, walking from the highest index down so no rename overwrites an
// not-yet-moved archive. An archive that would shift past maxArchives is
// deleted instead. Shifting .1.log into slot 2 compresses it in place
// when compression is enabled, since slot 2 and above are always gzip.
func (l *Logger) shiftArchivesLocked(base string) error {
	for i := l.maxArchives; i >= 1; i-- {
		srcPath, srcCompressed := l.archivePath(base, i)
		if _, err := os.Stat(srcPath); err != nil {
			continue
		}

		if i+1 > l.maxArchives {
			if err := os.Remove(srcPath); err != nil {
				return err
			}
			continue
		}

		dstPath, dstCompressed := l.archivePath(base, i+1)
		if srcCompressed == dstCompressed {
			if err := os.Rename(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}

		if err := gzipFile(srcPath); err != nil {
			return err
		}
		if err := os.Rename(srcPath+".gz", dstPath); err != nil {
			return err
		}
		if err := os.Remove(srcPath); err != nil {
			return err
		}
	}
	return nil
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer dst.Close()

	gw := gzip.NewWriter(dst)
	defer gw.Close()

	_, err = io.Copy(gw, src)
	return err
}

// Close flushes and closes the active log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// statusWriter captures status and byte count, matching the teacher's
// middleware capture pattern.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// snapshotHeaders flattens r.Header into a single-value-per-key map for
// logging, taking the first value of any repeated header.
func snapshotHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// Middleware logs every request handled by next through l, annotating
// entries with any security findings already attached to the request
// context by security.Middleware.
func Middleware(l *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(ww, r)

			var categories []string
			for _, f := range security.FindingsFromContext(r.Context()) {
				categories = append(categories, f.Category)
			}

			entry := Entry{
				Timestamp:   start,
				RequestID:   middleware.GetReqID(r.Context()),
				Method:      r.Method,
				Path:        r.URL.Path,
				Status:      ww.status,
				BytesOut:    ww.bytes,
				DurationMS:  time.Since(start).Milliseconds(),
				RemoteIP:    r.RemoteAddr,
				UserAgent:   r.UserAgent(),
				SecurityHit: categories,
				Headers:     snapshotHeaders(r.Header),
			}
			if err := l.Write(entry); err != nil {
				l.log.Warn("request log write failed", logger.Error(err))
			}
		})
	}
}
