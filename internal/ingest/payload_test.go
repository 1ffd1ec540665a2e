package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t *testing.T, ms int64) {
	t.Helper()
	prev := nowMillis
	nowMillis = func() int64 { return ms }
	t.Cleanup(func() { nowMillis = prev })
}

func TestParsePayload_Wrapper(t *testing.T) {
	body := `{"browser":"Brave","history":[
		{"url":"https://a.com/","title":"A","visitCount":3,"lastVisitTime":1700000000123.75},
		{"url":"chrome://settings","title":"Settings","visitCount":1,"lastVisitTime":1},
		{"url":"http://b.com","visitCount":"7"}
	]}`
	fixedNow(t, 42)

	got, err := ParsePayload([]byte(body), "Google Chrome")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "https://a.com/", got[0].URL)
	assert.Equal(t, "A", got[0].Title)
	assert.Equal(t, 3, got[0].VisitCount)
	assert.Equal(t, int64(1700000000123), got[0].LastVisitTime)
	assert.Equal(t, "Brave", got[0].Browser)

	assert.Equal(t, DefaultTitle, got[1].Title)
	assert.Equal(t, 7, got[1].VisitCount)
	assert.Equal(t, int64(42), got[1].LastVisitTime)
}

func TestParsePayload_WrapperEntriesKeyAndUnknownBrowser(t *testing.T) {
	body := `{"browser":"Netscape","entries":[{"url":"https://a.com"}]}`

	got, err := ParsePayload([]byte(body), "Google Chrome")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Google Chrome", got[0].Browser)
	assert.Equal(t, 1, got[0].VisitCount)
}

func TestParsePayload_Array(t *testing.T) {
	body := `[{"url":"https://x.org","title":"X","visitCount":"abc","lastVisitTime":"1699999999999.9"},
	          {"url":"ftp://x.org"}]`

	got, err := ParsePayload([]byte(body), "Microsoft Edge")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].VisitCount)
	assert.Equal(t, int64(1699999999999), got[0].LastVisitTime)
	assert.Equal(t, "Microsoft Edge", got[0].Browser)
}

func TestParsePayload_FlatLines(t *testing.T) {
	fixedNow(t, 99)
	body := "https://a.com,\"Title, with comma\",4,1700000000000\n" +
		"about:blank,Blank,1,1\n" +
		"http://b.com\n" +
		"\n"

	got, err := ParsePayload([]byte(body), "Google Chrome")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Title, with comma", got[0].Title)
	assert.Equal(t, 4, got[0].VisitCount)
	assert.Equal(t, int64(1700000000000), got[0].LastVisitTime)

	assert.Equal(t, "http://b.com", got[1].URL)
	assert.Equal(t, DefaultTitle, got[1].Title)
	assert.Equal(t, 1, got[1].VisitCount)
	assert.Equal(t, int64(99), got[1].LastVisitTime)
}

func TestParsePayload_MalformedJSONFallsBackToLines(t *testing.T) {
	got, err := ParsePayload([]byte(`[{"url": "https://a.com"`), "Google Chrome")
	assert.ErrorIs(t, err, ErrNoEntries)
	assert.Nil(t, got)
}

func TestParsePayload_NonWebURLsNeverKept(t *testing.T) {
	bodies := []string{
		`{"history":[{"url":"chrome-extension://abc/page.html"}]}`,
		`[{"url":"file:///etc/passwd"}]`,
		"javascript:alert(1),x,1,1",
	}
	for _, b := range bodies {
		_, err := ParsePayload([]byte(b), "Google Chrome")
		assert.ErrorIs(t, err, ErrNoEntries, b)
	}
}

func TestParsePayload_Empty(t *testing.T) {
	_, err := ParsePayload([]byte("   "), "Google Chrome")
	assert.ErrorIs(t, err, ErrNoEntries)
}

func TestNormalizeBrowser(t *testing.T) {
	assert.Equal(t, "Brave", NormalizeBrowser("Brave", "Google Chrome"))
	assert.Equal(t, "Google Chrome", NormalizeBrowser("brave", "Google Chrome"))
	assert.Equal(t, "Google Chrome", NormalizeBrowser("", "Google Chrome"))
}
