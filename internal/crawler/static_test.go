package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<html><body>
<form action="/login" method="post">
  <input type="text" name="username">
  <input type="password" name="password">
  <input type="submit" value="Sign in">
</form>
<form action="/search" method="get">
  <input type="search" name="q">
</form>
</body></html>`

func TestStaticNavigatorFetchesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>plain</body></html>"))
	}))
	defer srv.Close()

	nav, err := NewStaticNavigator(Config{UserAgent: "scanner-test/1.0"}, nil)
	require.NoError(t, err)

	visit, err := nav.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, visit.StatusCode)
	require.Len(t, visit.Requests, 1)
	assert.Equal(t, "Document", visit.Requests[0].Type)
}

func TestStaticNavigatorSubmitsForms(t *testing.T) {
	var (
		loginMethod string
		loginUser   string
		loginPass   string
		searchQuery string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			require.NoError(t, r.ParseForm())
			loginMethod = r.Method
			loginUser = r.PostFormValue("username")
			loginPass = r.PostFormValue("password")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/search":
			searchQuery = r.URL.Query().Get("q")
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body>results</body></html>"))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(loginPage))
		}
	}))
	defer srv.Close()

	nav, err := NewStaticNavigator(Config{UserAgent: "scanner-test/1.0", SubmitForms: true}, nil)
	require.NoError(t, err)

	visit, err := nav.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)

	// the document itself plus one request per form
	require.Len(t, visit.Requests, 3)

	assert.Equal(t, http.MethodPost, loginMethod)
	assert.Equal(t, "testuser", loginUser)
	assert.Equal(t, "Password123!", loginPass)
	assert.Equal(t, "testuser", searchQuery)

	var post ObservedRequest
	for _, req := range visit.Requests {
		if req.Method == http.MethodPost {
			post = req
		}
	}
	require.NotEmpty(t, post.URL)
	assert.True(t, strings.HasSuffix(post.URL, "/login"), post.URL)
	assert.Contains(t, string(post.Body), "username=testuser")
	assert.Equal(t, "application/x-www-form-urlencoded", post.Headers.Get("Content-Type"))
}

func TestStaticNavigatorSkipsFormsWhenDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(loginPage))
	}))
	defer srv.Close()

	nav, err := NewStaticNavigator(Config{UserAgent: "scanner-test/1.0"}, nil)
	require.NoError(t, err)

	visit, err := nav.Navigate(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, visit.Requests, 1)
}
