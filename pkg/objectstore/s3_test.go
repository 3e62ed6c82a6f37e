package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3Stub struct {
	lastInput *s3.PutObjectInput
	err       error
}

func (s *s3Stub) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.lastInput = params
	if s.err != nil {
		return nil, s.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestPut(t *testing.T) {
	stub := &s3Stub{}
	store := NewWithClient(stub, "tryon-assets", "https://cdn.example.com/")

	url, err := store.Put(context.Background(), []byte("image-bytes"), "image/png", "results/session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stub.lastInput == nil || *stub.lastInput.Bucket != "tryon-assets" {
		t.Fatalf("expected upload into configured bucket, got %+v", stub.lastInput)
	}
	if *stub.lastInput.ContentType != "image/png" {
		t.Fatalf("expected content type forwarded, got %q", *stub.lastInput.ContentType)
	}

	key := *stub.lastInput.Key
	if !strings.HasPrefix(key, "results/session-1/") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("unexpected object key %q", key)
	}
	if url != "https://cdn.example.com/"+key {
		t.Fatalf("expected public URL from base, got %q", url)
	}
}

func TestPutExtensionFollowsContentType(t *testing.T) {
	tests := []struct {
		contentType string
		wantSuffix  string
	}{
		{contentType: "image/png", wantSuffix: ".png"},
		{contentType: "image/webp", wantSuffix: ".webp"},
		{contentType: "image/jpeg", wantSuffix: ".jpg"},
		{contentType: "application/octet-stream", wantSuffix: ".jpg"},
	}
	for _, tt := range tests {
		stub := &s3Stub{}
		store := NewWithClient(stub, "b", "https://cdn.example.com")
		if _, err := store.Put(context.Background(), []byte("x"), tt.contentType, "inputs"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasSuffix(*stub.lastInput.Key, tt.wantSuffix) {
			t.Fatalf("content type %s: expected key suffix %s, got %q", tt.contentType, tt.wantSuffix, *stub.lastInput.Key)
		}
	}
}

func TestFetch(t *testing.T) {
	t.Run("returns body and content type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/webp")
			io.WriteString(w, "webp-bytes")
		}))
		defer srv.Close()

		store := NewWithClient(&s3Stub{}, "b", "https://cdn.example.com")
		data, contentType, err := store.Fetch(context.Background(), srv.URL+"/asset.webp")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != "webp-bytes" || contentType != "image/webp" {
			t.Fatalf("unexpected fetch result: %q %q", data, contentType)
		}
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		store := NewWithClient(&s3Stub{}, "b", "https://cdn.example.com")
		if _, _, err := store.Fetch(context.Background(), srv.URL+"/expired"); err == nil {
			t.Fatal("expected an error for an expired link")
		}
	})
}
