package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/watkajtys/heliosphere-sub001/internal/errkind"
	"github.com/watkajtys/heliosphere-sub001/internal/layer"
)

func pngBody(size int) []byte {
	b := make([]byte, size)
	copy(b, magicPNG)
	return b
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(pngBody(5000))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 5*time.Second, WithBackoff(time.Millisecond), WithMaxRetries(5))
	img, err := c.Fetch(context.Background(), layer.Corona, time.Now())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if img.Hash == "" {
		t.Fatal("expected non-empty hash")
	}
}

func TestFetchPermanentErrorDoesNotRetry(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 5*time.Second, WithBackoff(time.Millisecond), WithMaxRetries(5))
	_, err := c.Fetch(context.Background(), layer.Corona, time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errkind.ErrPermanentFetch) {
		t.Fatalf("err = %v, want ErrPermanentFetch", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on permanent failure)", attempts)
	}
}

func TestFetchUndersizedBodyIsTransientAndExhausts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBody(10))
	}))
	defer srv.Close()

	// Each undersized attempt is transient and retried; once the retry
	// budget is spent, Fetch reports the permanent kind.
	c := NewClient(srv.URL, time.Second, 5*time.Second, WithBackoff(time.Millisecond), WithMaxRetries(2), WithMinFrameSize(4096))
	_, err := c.Fetch(context.Background(), layer.Corona, time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errkind.ErrPermanentFetch) {
		t.Fatalf("err = %v, want ErrPermanentFetch after retries are exhausted", err)
	}
}

func TestFetchBadMagicBytesIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte{0x00}, 5000))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 5*time.Second, WithBackoff(time.Millisecond), WithMaxRetries(3))
	_, err := c.Fetch(context.Background(), layer.Corona, time.Now())
	if !errors.Is(err, errkind.ErrPermanentFetch) {
		t.Fatalf("err = %v, want ErrPermanentFetch", err)
	}
}

func TestFetchJPEGMagicAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := make([]byte, 5000)
		copy(b, magicJPEG)
		w.Write(b)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 5*time.Second)
	if _, err := c.Fetch(context.Background(), layer.SunDisk, time.Now()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestFetchHonorsProxy(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write(pngBody(5000))
	}))
	defer srv.Close()

	c := NewClient("https://api.helioviewer.org", time.Second, 5*time.Second, WithProxy(srv.URL))
	if _, err := c.Fetch(context.Background(), layer.Corona, time.Now()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotURL == "" {
		t.Fatal("proxy never received a request")
	}
}

func TestFetchContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, time.Second, 5*time.Second, WithBackoff(time.Millisecond), WithMaxRetries(5))
	_, err := c.Fetch(ctx, layer.Corona, time.Now())
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
