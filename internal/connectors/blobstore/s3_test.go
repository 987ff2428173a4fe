package blobstore

import (
	"context"
	"testing"
)

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), Config{Region: "us-east-1"})
	if err == nil {
		t.Fatal("expected an error when bucket is empty")
	}
}

func TestFullKey_PrependsPrefix(t *testing.T) {
	s := &S3Store{bucket: "docs", prefix: "tenant-a"}
	if got, want := s.fullKey("doc-1/body"), "tenant-a/doc-1/body"; got != want {
		t.Fatalf("fullKey = %q, want %q", got, want)
	}
}

func TestFullKey_NoPrefixIsPassthrough(t *testing.T) {
	s := &S3Store{bucket: "docs"}
	if got, want := s.fullKey("doc-1/body"), "doc-1/body"; got != want {
		t.Fatalf("fullKey = %q, want %q", got, want)
	}
}
