package vendors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bill-scraper/logger"
)

func TestFetchWithCookies(t *testing.T) {
	var gotCookie, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 bill"))
	}))
	defer srv.Close()

	cookies := []*network.Cookie{
		{Name: "ASP.NET_SessionId", Value: "abc123"},
		{Name: "auth", Value: "token"},
	}
	client := newFetchClient(5*time.Second, logger.Discard())

	status, body, err := fetchWithCookies(context.Background(), client, srv.URL+"/bill.pdf", "Mozilla/5.0 test", cookies)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "%PDF-1.4 bill", string(body))
	assert.Equal(t, "ASP.NET_SessionId=abc123; auth=token", gotCookie)
	assert.Equal(t, "Mozilla/5.0 test", gotAgent)
}

func TestFetchWithCookies_NotOKIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such bill", http.StatusNotFound)
	}))
	defer srv.Close()

	client := newFetchClient(5*time.Second, logger.Discard())
	status, body, err := fetchWithCookies(context.Background(), client, srv.URL, "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "no such bill")
}

func TestCookieHeader_Empty(t *testing.T) {
	assert.Empty(t, cookieHeader(nil))
}
