package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.ics":
			w.Header().Set("Content-Type", "text/calendar")
			_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
		case "/slow.ics":
			time.Sleep(200 * time.Millisecond)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcherWithClient(srv.Client())
	body, err := f.Fetch(context.Background(), srv.URL+"/ok.ics")
	require.NoError(t, err)
	assert.Contains(t, string(body), "BEGIN:VCALENDAR")

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.ics")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, se.Error(), "404")

	_, err = NewFetcher(50*time.Millisecond).Fetch(context.Background(), srv.URL+"/slow.ics")
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), " ")
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com/path/to/private.ics?token=abcd": "https://example.com/...(redacted)",
		"https://user:pw@cal.example.com/feed":               "https://cal.example.com/...(redacted)",
		"http://host:8080?secret=1":                          "http://host:8080/...(redacted)",
		"not a url":                                          "ics://...(redacted)",
	}
	for in, want := range cases {
		assert.Equal(t, want, redactURL(in), in)
	}
}
