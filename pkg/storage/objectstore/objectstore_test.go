package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

type recordingClient struct {
	obj  Object
	body []byte
	size int64
}

func (r *recordingClient) Put(_ context.Context, obj Object, reader io.Reader, size int64) error {
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	r.obj, r.body, r.size = obj, body, size
	return nil
}

func (r *recordingClient) Close() error { return nil }

func TestNewProviders(t *testing.T) {
	c, err := New(Config{Provider: "none"})
	if err != nil || c != nil {
		t.Fatalf("none provider = %v, %v; want nil, nil", c, err)
	}

	c, err = New(Config{Provider: "minio", Endpoint: "http://localhost:9000", Bucket: "audio", AccessKey: "a", SecretKey: "b"})
	if err != nil || c == nil {
		t.Fatalf("minio provider = %v, %v", c, err)
	}

	if _, err := New(Config{Provider: "minio", Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error without bucket")
	}
	if _, err := New(Config{Provider: "gcs"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestPutFileStreamsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc123.mp3")
	if err := os.WriteFile(path, []byte("ID3data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := &recordingClient{}
	obj := Object{Key: "audio/abc123.mp3", ContentType: "audio/mpeg"}
	if err := PutFile(context.Background(), rec, obj, path); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if string(rec.body) != "ID3data" || rec.size != 7 || rec.obj.Key != "audio/abc123.mp3" {
		t.Fatalf("recorded %+v %q %d", rec.obj, rec.body, rec.size)
	}

	if err := PutFile(context.Background(), rec, obj, filepath.Join(t.TempDir(), "missing.mp3")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
