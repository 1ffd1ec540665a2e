package virustotal

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

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", Options{APIURL: srv.URL + "/vtapi/v2/url/report"})
}

func TestURLReport_Detected(t *testing.T) {
	var gotQuery, gotUA string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`{"response_code":1,"positives":3,"total":70,"scan_date":"2024-03-01 12:30:00","permalink":"https://vt/x"}`))
	})

	rep, err := c.URLReport(context.Background(), "http://bad.example.com/page?a=1")
	require.NoError(t, err)

	assert.Equal(t, 1, rep.ResponseCode)
	assert.True(t, rep.HasCounts)
	assert.Equal(t, 3, rep.Positives)
	assert.Equal(t, 70, rep.Total)
	assert.Equal(t, "https://vt/x", rep.Permalink)

	ts, ok := rep.ScanTime()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), ts)

	assert.Contains(t, gotQuery, "apikey=test-key")
	assert.Contains(t, gotQuery, "resource=http%3A%2F%2Fbad.example.com%2Fpage%3Fa%3D1")
	assert.Equal(t, DefaultUserAgent, gotUA)
}

func TestURLReport_NotInDatabase(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response_code":0,"verbose_msg":"Resource does not exist in the dataset"}`))
	})

	rep, err := c.URLReport(context.Background(), "https://new.example")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.ResponseCode)
	assert.False(t, rep.HasCounts)
	_, ok := rep.ScanTime()
	assert.False(t, ok)
}

func TestURLReport_MissingCounts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response_code":1,"positives":2}`))
	})

	rep, err := c.URLReport(context.Background(), "https://a.example")
	require.NoError(t, err)
	assert.False(t, rep.HasCounts)
}

func TestURLReport_StatusErrors(t *testing.T) {
	for _, code := range []int{http.StatusNoContent, http.StatusForbidden, http.StatusBadRequest, http.StatusInternalServerError} {
		code := code
		t.Run(http.StatusText(code), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
			})

			_, err := c.URLReport(context.Background(), "https://a.example")
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, code, se.Code)
			assert.Equal(t, code == http.StatusNoContent, se.QuotaExceeded())
		})
	}
}

func TestURLReport_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	})

	_, err := c.URLReport(context.Background(), "https://a.example")
	var de *DecodeError
	assert.True(t, errors.As(err, &de))
}

func TestURLReport_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient("SECRET-KEY-123", Options{APIURL: srv.URL})
	_, err := c.URLReport(context.Background(), "https://a.example")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-KEY-123")
	assert.NotContains(t, err.Error(), "apikey")

	var se *StatusError
	var de *DecodeError
	assert.False(t, errors.As(err, &se))
	assert.False(t, errors.As(err, &de))
}

func TestURLReport_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response_code":1,"positives":0,"total":60}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.URLReport(ctx, "https://a.example")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, err.Error(), "test-key")
}

func TestURLReport_BadAPIURLHidesKey(t *testing.T) {
	c := NewClient("SECRET-KEY-123", Options{APIURL: "http://[::1"})
	_, err := c.URLReport(context.Background(), "https://a.example")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-KEY-123")
}
