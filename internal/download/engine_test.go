package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

type rangeServer struct {
	data        []byte
	ignoreRange bool
	mu          sync.Mutex
	ranges      []string
	hits        atomic.Int32
}

func (s *rangeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)
	s.mu.Lock()
	s.ranges = append(s.ranges, r.Header.Get("Range"))
	s.mu.Unlock()
	if s.ignoreRange {
		r.Header.Del("Range")
	}
	http.ServeContent(w, r, "file.mcool", time.Time{}, bytes.NewReader(s.data))
}

func (s *rangeServer) lastRange() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ranges) == 0 {
		return ""
	}
	return s.ranges[len(s.ranges)-1]
}

func TestDownloadFullFileReportsProgress(t *testing.T) {
	data := payload(10_000)
	srv := httptest.NewServer(&rangeServer{data: data})
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "K562_A.mcool")
	engine := NewEngine(Options{ChunkSize: 1024})

	var updates []Progress
	path, err := engine.Download(context.Background(), Request{URL: srv.URL, Dest: dest, Accession: "A", Resume: true}, func(p Progress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if path != dest {
		t.Fatalf("unexpected path %q", path)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Fatalf("content mismatch: got %d bytes", len(got))
	}
	if len(updates) != 10 {
		t.Fatalf("expected one update per chunk, got %d", len(updates))
	}
	last := updates[len(updates)-1]
	if last.BytesWritten != 10_000 || last.BytesTotal != 10_000 || last.Percent != 100 || last.Accession != "A" {
		t.Fatalf("unexpected final progress %+v", last)
	}
}

func TestDownloadResumesPartialFile(t *testing.T) {
	data := payload(8_000)
	server := &rangeServer{data: data}
	srv := httptest.NewServer(server)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "partial.mcool")
	if err := os.WriteFile(dest, data[:3_000], 0o644); err != nil {
		t.Fatal(err)
	}

	var first Progress
	engine := NewEngine(Options{ChunkSize: 1024})
	if _, err := engine.Download(context.Background(), Request{URL: srv.URL, Dest: dest, Resume: true}, func(p Progress) {
		if first.BytesWritten == 0 {
			first = p
		}
	}); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := server.lastRange(); got != "bytes=3000-" {
		t.Fatalf("expected range request, got %q", got)
	}
	if first.BytesTotal != 8_000 || first.BytesWritten != 4_024 {
		t.Fatalf("progress should include the resumed offset, got %+v", first)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Fatal("resumed content mismatch")
	}

	// A second call against the complete file is answered with 416.
	if _, err := engine.Download(context.Background(), Request{URL: srv.URL, Dest: dest, Resume: true}, nil); err != nil {
		t.Fatalf("repeat Download: %v", err)
	}
	got, _ = os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Fatal("repeat download modified the file")
	}
}

func TestDownloadRestartsWhenRangeIgnored(t *testing.T) {
	data := payload(5_000)
	srv := httptest.NewServer(&rangeServer{data: data, ignoreRange: true})
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "restart.mcool")
	if err := os.WriteFile(dest, []byte("stale-prefix-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewEngine(Options{}).Download(context.Background(), Request{URL: srv.URL, Dest: dest, Resume: true}, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Fatalf("expected truncated rewrite, got %d bytes", len(got))
	}
}

func TestDownloadWithoutResumeSkipsExisting(t *testing.T) {
	server := &rangeServer{data: payload(100)}
	srv := httptest.NewServer(server)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "exists.mcool")
	if err := os.WriteFile(dest, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, err := NewEngine(Options{}).Download(context.Background(), Request{URL: srv.URL, Dest: dest}, nil)
	if err != nil || path != dest {
		t.Fatalf("expected immediate success, path=%q err=%v", path, err)
	}
	if server.hits.Load() != 0 {
		t.Fatalf("expected no request, got %d", server.hits.Load())
	}
}

func TestDownloadStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewEngine(Options{}).Download(context.Background(), Request{URL: srv.URL, Dest: filepath.Join(t.TempDir(), "f")}, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected StatusError 403, got %v", err)
	}
}

func TestDownloadStalledBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("first bytes"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	start := time.Now()
	_, err := NewEngine(Options{Timeout: 150 * time.Millisecond}).Download(context.Background(),
		Request{URL: srv.URL, Dest: filepath.Join(t.TempDir(), "stall.mcool"), Resume: true}, nil)
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("expected ErrStalled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("stall detection took too long")
	}
}

func TestDownloadDroppedConnectionFailsThenResumes(t *testing.T) {
	data := payload(10_000)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			http.ServeContent(w, r, "file.mcool", time.Time{}, bytes.NewReader(data))
			return
		}
		w.Header().Set("Content-Length", "10000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data[:4000])
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "drop.mcool")
	engine := NewEngine(Options{})
	req := Request{URL: srv.URL, Dest: dest, Resume: true, Accession: "4DNFI0001"}

	if _, err := engine.Download(context.Background(), req, nil); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected a dropped connection to fail with ErrTruncated, got %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("partial file should remain: %v", err)
	}
	if info.Size() != 4000 {
		t.Fatalf("expected 4000 partial bytes, got %d", info.Size())
	}

	if _, err := engine.Download(context.Background(), req, nil); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("resumed file differs: %d bytes", len(got))
	}
}

func TestCopyChunksRejectsShortBody(t *testing.T) {
	e := NewEngine(Options{ChunkSize: 64})
	var out bytes.Buffer
	written, err := e.copyChunks(&out, strings.NewReader(strings.Repeat("x", 100)), "A", 0, 150, nil)
	if !errors.Is(err, ErrTruncated) || written != 100 {
		t.Fatalf("expected ErrTruncated after 100 bytes, got %d, %v", written, err)
	}
	out.Reset()
	if _, err := e.copyChunks(&out, strings.NewReader(strings.Repeat("x", 100)), "A", 0, 100, nil); err != nil {
		t.Fatalf("complete body should succeed: %v", err)
	}
}

type recordingDoer struct {
	mu   sync.Mutex
	auth map[string]string
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	if d.auth == nil {
		d.auth = map[string]string{}
	}
	d.auth[req.URL.Host] = req.Header.Get("Authorization")
	d.mu.Unlock()
	return &http.Response{
		StatusCode:    http.StatusOK,
		Body:          io.NopCloser(strings.NewReader("ok")),
		ContentLength: 2,
		Header:        http.Header{},
		Request:       req,
	}, nil
}

func TestAuthRoutingByHost(t *testing.T) {
	doer := &recordingDoer{}
	engine := NewEngine(Options{
		Client:      doer,
		Credentials: Credentials{AccessID: "key", SecretKey: "secret"},
	})
	dir := t.TempDir()
	for i, u := range []string{
		"https://data.4dnucleome.org/files-processed/A/@@download/A.mcool",
		"https://4dnucleome.org/x",
		"https://www.encodeproject.org/files/E/@@download/E.bed.gz",
		"https://evil4dnucleome.org/x",
	} {
		dest := filepath.Join(dir, string(rune('a'+i)))
		if _, err := engine.Download(context.Background(), Request{URL: u, Dest: dest}, nil); err != nil {
			t.Fatalf("Download %s: %v", u, err)
		}
	}
	if !strings.HasPrefix(doer.auth["data.4dnucleome.org"], "Basic ") || !strings.HasPrefix(doer.auth["4dnucleome.org"], "Basic ") {
		t.Fatalf("expected basic auth for 4DN hosts, got %v", doer.auth)
	}
	if doer.auth["www.encodeproject.org"] != "" || doer.auth["evil4dnucleome.org"] != "" {
		t.Fatalf("public hosts must not receive credentials, got %v", doer.auth)
	}
}

func TestNeedsAuth(t *testing.T) {
	cases := map[string]bool{
		"4dnucleome.org":          true,
		"data.4dnucleome.org":     true,
		"DATA.4DNUCLEOME.ORG":     true,
		"evil4dnucleome.org":      false,
		"4dnucleome.org.evil.com": false,
		"www.encodeproject.org":   false,
	}
	for host, want := range cases {
		if got := needsAuth(host); got != want {
			t.Fatalf("needsAuth(%q) = %v, want %v", host, got, want)
		}
	}
}
