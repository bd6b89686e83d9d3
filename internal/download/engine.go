package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chromdm/internal/logging"
)

const (
	defaultChunkSize = 4 << 20
	defaultTimeout   = 300 * time.Second
	fourDNDomain     = "4dnucleome.org"
)

// ErrStalled is returned when the body stops producing bytes for longer than
// the idle timeout.
var ErrStalled = errors.New("download stalled")

// ErrTruncated is returned when the body ends before the advertised length.
var ErrTruncated = errors.New("transfer truncated")

// StatusError reports a response status the engine does not handle.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// HTTPDoer describes the HTTP client used for transfers.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one transfer.
type Request struct {
	URL       string
	Dest      string
	Accession string
	Resume    bool
}

// Progress is reported after every chunk.
type Progress struct {
	Accession    string  `json:"accession"`
	BytesWritten int64   `json:"bytes_written"`
	BytesTotal   int64   `json:"bytes_total"`
	Percent      float64 `json:"percent"`
	SpeedMBps    float64 `json:"speed_mbps"`
}

// ProgressFunc receives progress updates. It may be nil.
type ProgressFunc func(Progress)

// Credentials authenticate 4DN downloads.
type Credentials struct {
	AccessID  string
	SecretKey string
}

func (c Credentials) valid() bool {
	return c.AccessID != "" && c.SecretKey != ""
}

// Options configures an Engine.
type Options struct {
	// ChunkSize is the write and progress granularity. Default 4 MiB.
	ChunkSize int
	// Timeout bounds connect, TLS handshake, response headers, and each
	// body read. Default 300s.
	Timeout     time.Duration
	Credentials Credentials
	// Client overrides the transport; the idle read timeout still applies.
	Client HTTPDoer
	Logger *slog.Logger
}

// Engine performs single resumable transfers.
type Engine struct {
	client    HTTPDoer
	chunkSize int
	timeout   time.Duration
	creds     Credentials
	logger    *slog.Logger
}

// NewEngine builds an Engine from opts.
func NewEngine(opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	client := opts.Client
	if client == nil {
		dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   opts.Timeout,
				ResponseHeaderTimeout: opts.Timeout,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   8,
				DisableCompression:    true,
			},
		}
	}
	return &Engine{
		client:    client,
		chunkSize: opts.ChunkSize,
		timeout:   opts.Timeout,
		creds:     opts.Credentials,
		logger:    opts.Logger,
	}
}

// needsAuth reports whether host belongs to the 4DN portal.
func needsAuth(host string) bool {
	host = strings.ToLower(host)
	return host == fourDNDomain || strings.HasSuffix(host, "."+fourDNDomain)
}

// Download transfers req.URL to req.Dest and returns the destination path.
// Partial files are left in place so a later call with Resume can continue.
func (e *Engine) Download(ctx context.Context, req Request, progress ProgressFunc) (string, error) {
	if req.Dest == "" {
		return "", errors.New("download: empty destination")
	}
	existing, err := fileSize(req.Dest)
	if err != nil {
		return "", fmt.Errorf("stat destination: %w", err)
	}
	if existing >= 0 && !req.Resume {
		return req.Dest, nil
	}
	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return "", fmt.Errorf("create destination directory: %w", err)
	}
	offset := max(existing, 0)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	if e.creds.valid() && needsAuth(hostOf(httpReq.URL)) {
		httpReq.SetBasicAuth(e.creds.AccessID, e.creds.SecretKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		e.logger.Debug("destination already complete",
			logging.String(logging.FieldAccession, req.Accession),
			logging.Int64("bytes", offset),
		)
		return req.Dest, nil
	case http.StatusOK:
		offset = 0
		flags |= os.O_TRUNC
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &StatusError{StatusCode: resp.StatusCode, URL: req.URL}
	}

	out, err := os.OpenFile(req.Dest, flags, 0o644)
	if err != nil {
		return "", fmt.Errorf("open destination: %w", err)
	}

	total := int64(0)
	if resp.ContentLength >= 0 {
		total = resp.ContentLength + offset
	}

	body := newIdleReader(resp.Body, e.timeout, cancel)
	defer body.stop()

	written, copyErr := e.copyChunks(out, body, req.Accession, offset, total, progress)
	closeErr := out.Close()
	if copyErr != nil {
		if body.stalled() {
			return "", fmt.Errorf("%s after %d bytes: %w", req.URL, written, ErrStalled)
		}
		return "", fmt.Errorf("transfer %s: %w", req.URL, copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("close destination: %w", closeErr)
	}
	return req.Dest, nil
}

func (e *Engine) copyChunks(out io.Writer, body io.Reader, accession string, offset, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, e.chunkSize)
	written := offset
	var session int64
	start := time.Now()
	// ReadFull reports a short final chunk as io.ErrUnexpectedEOF, so a body
	// that itself ends early must be told apart before it gets there.
	body = strictEOFReader{body}
	for {
		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write destination: %w", err)
			}
			written += int64(n)
			session += int64(n)
			if progress != nil {
				progress(makeProgress(accession, written, total, session, time.Since(start)))
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			if total > 0 && written != total {
				return written, fmt.Errorf("%w: %d of %d bytes", ErrTruncated, written, total)
			}
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// strictEOFReader turns an io.ErrUnexpectedEOF from the response body, which
// net/http returns when the connection drops short of Content-Length, into
// ErrTruncated.
type strictEOFReader struct {
	r io.Reader
}

func (s strictEOFReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = ErrTruncated
	}
	return n, err
}

func makeProgress(accession string, written, total, session int64, elapsed time.Duration) Progress {
	p := Progress{Accession: accession, BytesWritten: written, BytesTotal: total}
	if total > 0 {
		p.Percent = float64(written) / float64(total) * 100
	}
	if secs := elapsed.Seconds(); secs > 0 {
		p.SpeedMBps = float64(session) / secs / (1024 * 1024)
	}
	return p
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Hostname()
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return -1, nil
		}
		return -1, err
	}
	return info.Size(), nil
}

// idleReader cancels the request when no Read completes within timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer

	mu    sync.Mutex
	fired bool
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.mu.Lock()
		ir.fired = true
		ir.mu.Unlock()
		cancel()
	})
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}

func (ir *idleReader) stalled() bool {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	return ir.fired
}
