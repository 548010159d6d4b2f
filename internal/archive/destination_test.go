package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestFileDestination(t *testing.T) {
	dir := t.TempDir()
	d := NewFileDestination(dir)

	if err := d.Write(context.Background(), "g1/one.jsonl", strings.NewReader("a\n"), 2); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "g1", "one.jsonl"))
	if err != nil || string(got) != "a\n" {
		t.Fatalf("file = %q, %v", got, err)
	}

	// Traversal stays inside dir.
	if err := d.Write(context.Background(), "../../escape.jsonl", strings.NewReader("b\n"), 2); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.jsonl")); err != nil {
		t.Errorf("escaped write not rooted in dir: %v", err)
	}

	if err := d.Write(context.Background(), "", strings.NewReader(""), 0); err == nil {
		t.Error("empty name should fail")
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "g1"))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".archive-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestS3Destination_PutsUnderPrefix(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))

	var (
		mu     sync.Mutex
		method string
		path   string
		ctype  string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, ctype, body = r.Method, r.URL.Path, r.Header.Get("Content-Type"), string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewS3Destination(context.Background(), S3Options{
		Bucket:   "archive-bucket",
		Prefix:   "/memlog/archive/",
		Region:   "us-east-1",
		Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewS3Destination: %v", err)
	}
	if got := d.Key("g1/x.jsonl"); got != "memlog/archive/g1/x.jsonl" {
		t.Errorf("Key = %q", got)
	}
	if got := d.String(); got != "s3://archive-bucket/memlog/archive" {
		t.Errorf("String = %q", got)
	}
	obj := `{"type":"header"}` + "\n"
	if err := d.Write(context.Background(), "g1/x.jsonl", strings.NewReader(obj), int64(len(obj))); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Errorf("method = %s, want PUT", method)
	}
	if path != "/archive-bucket/memlog/archive/g1/x.jsonl" {
		t.Errorf("path = %s", path)
	}
	if ctype != "application/x-ndjson" {
		t.Errorf("content type = %s", ctype)
	}
	if !strings.Contains(body, `{"type":"header"}`) {
		t.Errorf("body = %q", body)
	}
}

func TestNewS3Destination_RequiresBucket(t *testing.T) {
	if _, err := NewS3Destination(context.Background(), S3Options{Region: "us-east-1"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
