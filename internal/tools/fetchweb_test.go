package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-analyst/pkg/config"
	"go-analyst/pkg/models"
)

const testPage = `<html><head><title>Quarterly report</title></head>
<body>
<nav>menu</nav>
<article>
<h1>Quarterly report</h1>
<p>Revenue grew in every region during the quarter, driven by strong demand in Europe and steady renewals in North America.</p>
<p>Operating costs were flat compared with the previous quarter while headcount increased slightly.</p>
<table><tr><td class="metric">revenue 120</td></tr><tr><td class="metric">costs 80</td></tr></table>
</article>
<script>alert("x")</script>
</body></html>`

func TestFetchWeb(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.UserAgent()
		switch r.URL.Path {
		case "/report":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(testPage))
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	f := NewFetchWeb(config.Tools{UserAgent: "analyst-test"})

	out, err := f.Execute(context.Background(), map[string]any{
		"url":       srv.URL + "/report",
		"selectors": map[string]any{"metrics": "td.metric"},
	})
	require.NoError(t, err)
	p := out.(page)
	assert.Equal(t, "Quarterly report", p.Title)
	assert.Contains(t, p.Text, "Revenue grew")
	assert.NotContains(t, p.Text, "<p>")
	assert.Equal(t, []string{"revenue 120", "costs 80"}, p.Selections["metrics"])
	assert.Equal(t, "analyst-test", agent)

	out, err = f.Execute(context.Background(), map[string]any{"url": srv.URL + "/report", "max_chars": 10})
	require.NoError(t, err)
	assert.Len(t, []rune(out.(page).Text), 10)
	assert.True(t, out.(page).Truncated)

	_, err = f.Execute(context.Background(), map[string]any{"url": srv.URL + "/gone"})
	assert.Equal(t, models.InvalidParams, toolKind(t, err))

	_, err = f.Execute(context.Background(), map[string]any{"url": srv.URL + "/broken"})
	assert.Equal(t, models.DependencyUnavailable, toolKind(t, err))

	_, err = f.Execute(context.Background(), map[string]any{"url": "ftp://example.com"})
	assert.Equal(t, models.InvalidParams, toolKind(t, err))
}

func TestFetchWeb_APIAndLinks(t *testing.T) {
	var accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		switch r.URL.Path {
		case "/api/sales":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"rows":[{"region":"north","amount":10}]}`))
		case "/api/plain":
			_, _ = w.Write([]byte("not json"))
		case "/links":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body><p>Sources</p>
<a href="/a">a</a><a href="https://example.com/b">b</a><a href="mailto:x@example.com">mail</a>
</body></html>`))
		}
	}))
	defer srv.Close()

	f := NewFetchWeb(config.Tools{})

	out, err := f.Execute(context.Background(), map[string]any{"url": srv.URL + "/api/sales", "method": "api"})
	require.NoError(t, err)
	resp := out.(apiResponse)
	assert.Equal(t, "application/json", accept)
	assert.Equal(t, map[string]any{"rows": []any{map[string]any{"region": "north", "amount": 10.0}}}, resp.Data)
	assert.False(t, resp.Truncated)

	out, err = f.Execute(context.Background(), map[string]any{"url": srv.URL + "/api/plain", "method": "api"})
	require.NoError(t, err)
	assert.Equal(t, "not json", out.(apiResponse).Data)

	out, err = f.Execute(context.Background(), map[string]any{"url": srv.URL + "/links"})
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/a", "https://example.com/b"}, out.(page).Links)

	_, err = f.Execute(context.Background(), map[string]any{"url": srv.URL + "/links", "method": "search"})
	var te *models.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, models.InvalidParams, te.Kind)
}

func TestFetchWeb_BodyLimitIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"values":[1,2,3,4,5,6,7,8,9,10]}`))
	}))
	defer srv.Close()

	f := NewFetchWeb(config.Tools{})
	f.maxBody = 12

	out, err := f.Execute(context.Background(), map[string]any{"url": srv.URL, "method": "api"})
	require.NoError(t, err)
	resp := out.(apiResponse)
	assert.True(t, resp.Truncated)
	assert.Equal(t, `{"values":[1`, resp.Data)

	f.maxBody = 1 << 20
	out, err = f.Execute(context.Background(), map[string]any{"url": srv.URL, "method": "api"})
	require.NoError(t, err)
	assert.False(t, out.(apiResponse).Truncated)
}
