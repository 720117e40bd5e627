package downloader

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenSendsHeadersAndReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "agent/1" || r.Header.Get("Cookie") != "k=v" || r.Header.Get("Referer") != "http://ref" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="x.bin"`)
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second, MaxRedirects: 5})
	defer f.Close()

	res, err := f.Open(context.Background(), Request{URL: srv.URL, UserAgent: "agent/1", Cookie: "k=v", Referer: "http://ref"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "hello" {
		t.Fatalf("body = %q", body)
	}
	if res.ContentDisposition != `attachment; filename="x.bin"` || res.ETag != `"abc"` {
		t.Fatalf("headers not captured: %+v", res)
	}
}

func TestOpenReturnsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(DefaultConfig())
	defer f.Close()

	res, err := f.Open(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestOpenStopsRedirectLoop(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second, MaxRedirects: 5})
	defer f.Close()

	_, err := f.Open(context.Background(), Request{URL: srv.URL})
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
}

func TestOpenSendsRangeForResume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=3-" || r.Header.Get("If-Range") != `"v1"` {
			w.Write([]byte("full"))
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("lo"))
	}))
	defer srv.Close()

	f := New(DefaultConfig())
	defer f.Close()

	res, err := f.Open(context.Background(), Request{URL: srv.URL, Offset: 3, IfRange: `"v1"`})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d", res.StatusCode)
	}
}
