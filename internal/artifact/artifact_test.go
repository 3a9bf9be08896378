package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// --- Key Tests ---

func TestKeys(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	if got := DistKey(id, "/tmp/build/dist/pkg-1.0-py3-none-any.whl"); got != "runs/11111111-2222-3333-4444-555555555555/dist/pkg-1.0-py3-none-any.whl" {
		t.Errorf("DistKey = %s", got)
	}
	if got := ReportKey(id, "py3.11.4-ubuntu-22.04-cov", "junit.xml"); got != "runs/11111111-2222-3333-4444-555555555555/reports/py3.11.4-ubuntu-22.04-cov/junit.xml" {
		t.Errorf("ReportKey = %s", got)
	}
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"", "/abs/key", "runs/../etc/passwd"} {
		if err := ValidateKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) = %v, want ErrInvalidKey", key, err)
		}
	}
	if err := ValidateKey("runs/x/dist/a.whl"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
}

// --- Sniff Tests ---

func zipBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("pkg/__init__.py")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "VERSION = '1.0'\n")
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSniff_KeepsFullStream(t *testing.T) {
	payload := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + strings.Repeat("<testsuite/>", 100)
	contentType, r, err := sniff(strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(contentType, "xml") {
		t.Errorf("content type = %s, want xml", contentType)
	}
	data, _ := io.ReadAll(r)
	if string(data) != payload {
		t.Error("stream was truncated by sniffing")
	}
}

func TestSniff_BareXML(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"junit without declaration", strings.Repeat(`<testsuite name="pkg" tests="1"/>`, 20), xmlContentType},
		{"leading whitespace", "\n  <testsuites><testsuite/></testsuites>", xmlContentType},
		{"plain log", "collected 12 items\n12 passed in 0.5s\n", "text/plain; charset=utf-8"},
		{"less-than in text", "3 < 4 is true\n", "text/plain; charset=utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contentType, _, err := sniff(strings.NewReader(tt.payload))
			if err != nil {
				t.Fatal(err)
			}
			if contentType != tt.want {
				t.Errorf("content type = %s, want %s", contentType, tt.want)
			}
		})
	}
}

// --- MemoryStore Tests ---

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	wheel := zipBytes(t)

	obj, err := store.Put(ctx, "runs/a/dist/pkg.whl", bytes.NewReader(wheel), int64(len(wheel)))
	if err != nil {
		t.Fatal(err)
	}
	if obj.Size != int64(len(wheel)) || obj.ContentType != "application/zip" {
		t.Errorf("object = %+v", obj)
	}

	ok, _ := store.Exists(ctx, "runs/a/dist/pkg.whl")
	if !ok {
		t.Error("object should exist")
	}

	rc, err := store.Get(ctx, "runs/a/dist/pkg.whl")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, wheel) {
		t.Error("content mismatch")
	}

	if _, err := store.Get(ctx, "runs/a/dist/missing.whl"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "../x", strings.NewReader("x"), 1); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestPutFileAndDownload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dir := t.TempDir()

	src := filepath.Join(dir, "junit.xml")
	if err := os.WriteFile(src, []byte(`<?xml version="1.0"?><testsuites/>`), 0o644); err != nil {
		t.Fatal(err)
	}

	obj, err := PutFile(ctx, store, "runs/a/reports/k/junit.xml", src)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(obj.ContentType, "xml") {
		t.Errorf("content type = %s", obj.ContentType)
	}

	dst := filepath.Join(dir, "out", "nested", "junit.xml")
	if err := Download(ctx, store, obj.Key, dst); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(dst)
	if !strings.Contains(string(data), "testsuites") {
		t.Errorf("downloaded = %q", data)
	}

	if err := Download(ctx, store, "runs/a/none", dst); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- S3Store Tests ---

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	f.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewS3StoreWithClient(fake, "conveyor-artifacts")
	wheel := zipBytes(t)

	if _, err := store.Put(ctx, "runs/a/dist/pkg.whl", bytes.NewReader(wheel), -1); err != nil {
		t.Fatal(err)
	}
	if fake.types["runs/a/dist/pkg.whl"] != "application/zip" {
		t.Errorf("content type = %s", fake.types["runs/a/dist/pkg.whl"])
	}

	ok, err := store.Exists(ctx, "runs/a/dist/pkg.whl")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	ok, err = store.Exists(ctx, "runs/a/dist/other.whl")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}

	if _, err := store.Get(ctx, "runs/a/dist/other.whl"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Config Tests ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Backend: BackendMemory}, false},
		{"default", Config{}, false},
		{"minio ok", Config{Backend: BackendMinIO, Endpoint: "localhost:9000", Bucket: "b", AccessKey: "a", SecretKey: "s"}, false},
		{"minio no keys", Config{Backend: BackendMinIO, Endpoint: "localhost:9000", Bucket: "b"}, true},
		{"s3 no bucket", Config{Backend: BackendS3}, true},
		{"unknown", Config{Backend: "gcs"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_Memory(t *testing.T) {
	store, err := New(context.Background(), Config{Backend: "MEMORY"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("store = %T", store)
	}
}
