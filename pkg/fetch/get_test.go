package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

func TestGet_SendsBrowserHeaders(t *testing.T) {
	var gotUA, gotAccept, gotLang atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		gotAccept.Store(r.Header.Get("Accept"))
		gotLang.Store(r.Header.Get("Accept-Language"))
		fmt.Fprint(w, "<html>ok</html>")
	}))
	t.Cleanup(server.Close)

	f := NewFetcher(testClient(), testConfig(0), testLogger(), WithUserAgent("portal-agent"))
	body, err := f.Get(context.Background(), server.URL+"/innsyn.aspx?response=journalpost_postliste")

	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
	assert.Equal(t, "portal-agent", gotUA.Load())
	assert.Contains(t, gotAccept.Load(), "text/html")
	assert.Equal(t, "nb-NO", gotLang.Load())
}

func TestGet_NonSuccessIsError(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusNotFound})

	f := NewFetcher(testClient(), testConfig(3), testLogger())
	body, err := f.Get(context.Background(), server.URL)

	require.Error(t, err)
	assert.Nil(t, body)
	assert.True(t, errors.Is(err, utils.ErrClientHTTPError))
	assert.Equal(t, "HTTP_404", utils.CategorizeError(err))
	assert.EqualValues(t, 1, attempts.Load())
}

func TestGet_InvalidURL(t *testing.T) {
	f := NewFetcher(testClient(), testConfig(0), testLogger())
	_, err := f.Get(context.Background(), "not a url")
	assert.True(t, errors.Is(err, utils.ErrParsing))
}

func TestGet_RobotsDisallowed(t *testing.T) {
	var caseHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
			return
		}
		caseHits.Add(1)
	}))
	t.Cleanup(server.Close)

	base := NewFetcher(testClient(), testConfig(0), testLogger())
	robots := NewRobotsChecker(base, testLogger())
	f := NewFetcher(testClient(), testConfig(0), testLogger(), WithRobots(robots))

	_, err := f.Get(context.Background(), server.URL+"/private/doc.pdf")
	assert.True(t, errors.Is(err, utils.ErrRobotsDisallowed))

	_, err = f.Get(context.Background(), server.URL+"/innsyn.aspx")
	assert.NoError(t, err)
	assert.EqualValues(t, 1, caseHits.Load())
}

func TestRobotsChecker_FailureAllows(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusNotFound})

	f := NewFetcher(testClient(), testConfig(0), testLogger())
	rc := NewRobotsChecker(f, testLogger())
	u, _ := url.Parse(server.URL + "/anything")

	assert.True(t, rc.Allowed(context.Background(), u, "agent"))
	assert.True(t, rc.Allowed(context.Background(), u, "agent"))
	assert.EqualValues(t, 1, attempts.Load(), "a failed robots.txt fetch is cached")
}
