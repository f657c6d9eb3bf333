package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

func pageURL(key gazette.PageKey) string {
	return "https://dje.example.com/" + key.String()
}

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1, PageURL: pageURL}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	if _, err := NewChromedp(Config{}); err == nil {
		t.Fatal("expected error for missing page URL builder")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2, PageURL: pageURL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(fetcher.limiter))
	}
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	if got := fetcher.navTimeout(); got != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	fetcher.cfg.NavigationTimeout = time.Second
	if got := fetcher.navTimeout(); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{limiter: make(chan struct{}, 1)}
	if err := fetcher.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fetcher.acquire(ctx); err == nil {
		t.Fatal("expected canceled acquire to fail while slot is held")
	}
	fetcher.release()
	if err := fetcher.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestResponseMetaCapture(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	if got := meta.statusOr(http.StatusOK); got != http.StatusOK {
		t.Fatalf("expected fallback status, got %d", got)
	}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500},
	})
	if got := meta.statusOr(http.StatusOK); got != http.StatusOK {
		t.Fatalf("non-document response should be ignored, got %d", got)
	}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404},
	})
	if got := meta.statusOr(http.StatusOK); got != http.StatusNotFound {
		t.Fatalf("expected document status 404, got %d", got)
	}
}

func TestFetchAfterCloseIsFatal(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{PageURL: pageURL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fetcher.Close()

	_, err = fetcher.Fetch(context.Background(), gazette.PageKey{VolumeID: "1", IssueID: "2", NotebookID: "3", PageNumber: 1})
	if !errors.Is(err, gazette.ErrSessionFatal) {
		t.Fatalf("expected ErrSessionFatal, got %v", err)
	}
}
