package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitalk-ai/autosync/jsontree"
)

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: srv.URL + "/", MinBackoff: time.Millisecond})
	require.NoError(t, err)
	return c
}

func TestTemplates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/templates/search/", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("rows"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		io.WriteString(w, `{"totalWorkflows":45,"workflows":[{"id":7,"name":"A","description":"d","createdAt":"2025-03-01T10:00:00.000Z","views":3}],"filters":[]}`)
	}))
	defer srv.Close()

	page, err := newClient(t, srv).Templates(context.Background(), Cursor{Page: 2, Rows: 20})
	require.NoError(t, err)
	assert.Equal(t, 45, page.TotalWorkflows)
	assert.Equal(t, []Summary{{ID: 7, Name: "A", Description: "d", CreatedAt: "2025-03-01T10:00:00.000Z"}}, page.Workflows)
}

func TestTemplatesInvalidCursor(t *testing.T) {
	c, err := New(Options{BaseURL: "http://example.invalid"})
	require.NoError(t, err)

	_, err = c.Templates(context.Background(), Cursor{Page: 0, Rows: 10})
	assert.Error(t, err)
}

func TestWorkflowUnwrapsAndKeepsOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/templates/workflows/42", r.URL.Path)
		io.WriteString(w, `{"workflow":{"id":42,"name":"Flow","totalViews":1.0,"categories":[]}}`)
	}))
	defer srv.Close()

	doc, err := newClient(t, srv).Workflow(context.Background(), 42)
	require.NoError(t, err)

	out, err := jsontree.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"id":42,"name":"Flow","totalViews":1.0,"categories":[]}`, string(out))
}

func TestWorkflowMissingEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":42}`)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).Workflow(context.Background(), 42)
	assert.ErrorIs(t, err, ErrMissingWorkflow)
}

func TestStatusErrorNotRetriedOn404(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).Workflow(context.Background(), 1)

	var se *StatusError
	require.True(t, errors.As(err, &se), "error = %v", err)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"totalWorkflows":0,"workflows":[]}`)
	}))
	defer srv.Close()

	page, err := newClient(t, srv).Templates(context.Background(), Cursor{Page: 1, Rows: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Workflows)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestNewValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://x", "::"} {
		_, err := New(Options{BaseURL: raw})
		assert.Error(t, err, raw)
	}
}

func TestCursorNext(t *testing.T) {
	assert.Equal(t, Cursor{Page: 3, Rows: 20}, Cursor{Page: 2, Rows: 20}.Next())
}
