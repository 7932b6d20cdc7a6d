package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"prodrec-backend/lib/scrapers/catalog"
	"prodrec-backend/services/recommend"

	"github.com/stretchr/testify/require"
)

type apiCall struct {
	method string
	path   string
	body   map[string]any
}

type fakeSheetsAPI struct {
	mu    sync.Mutex
	calls []apiCall
}

func (f *fakeSheetsAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := apiCall{method: r.Method, path: r.URL.Path}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&call.body)
		}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/spreadsheets/book1") {
			_, _ = w.Write([]byte(`{"sheets": [
				{"properties": {"sheetId": 0, "title": "User Input"}},
				{"properties": {"sheetId": 77, "title": "Sheet2"}}
			]}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
}

func (f *fakeSheetsAPI) snapshot() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall{}, f.calls...)
}

func (f *fakeSheetsAPI) find(method, pathSuffix string) (apiCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.method == method && strings.HasSuffix(c.path, pathSuffix) {
			return c, true
		}
	}
	return apiCall{}, false
}

func testBatch(keyword string, names ...string) recommend.Batch {
	records := make([]catalog.Product, len(names))
	for i, name := range names {
		records[i] = catalog.Product{
			Name:   name,
			Url:    "https://a.example/" + name,
			Price:  "US $9",
			Source: catalog.SiteAliExpress,
		}
	}
	return recommend.Aggregate(keyword, records)
}

func setupSink(t *testing.T) (*Sink, *fakeSheetsAPI) {
	api := &fakeSheetsAPI{}
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	sink, err := NewSink(context.Background(), Options{
		SpreadsheetId: "book1",
		BaseUrl:       server.URL,
	})
	require.NoError(t, err)
	return sink, api
}

func TestCampaignStartClearsAndMarksPending(t *testing.T) {
	sink, api := setupSink(t)

	err := sink.CampaignStart(context.Background(), 3)
	require.NoError(t, err)

	_, ok := api.find(http.MethodPost, "/values/Sheet2!A2:E:clear")
	require.True(t, ok, "result sheet was not cleared")

	_, ok = api.find(http.MethodPost, "/values/User Input!B2:B:clear")
	require.True(t, ok, "status column was not cleared")

	update, ok := api.find(http.MethodPut, "/values/User Input!B2:B4")
	require.True(t, ok, "status column was not marked pending")
	values := update.body["values"].([]any)
	require.Len(t, values, 3)
	require.Equal(t, []any{"Fetching Product Recommendations"}, values[0])

	var formats []map[string]any
	for _, c := range api.snapshot() {
		if c.method == http.MethodPost && strings.HasSuffix(c.path, ":batchUpdate") {
			requests := c.body["requests"].([]any)
			formats = append(formats, requests[0].(map[string]any)["repeatCell"].(map[string]any))
		}
	}
	require.Len(t, formats, 2, "status cells were not recolored")

	// the whole column is repainted white first, so a longer previous
	// campaign leaves no green cells behind
	reset := formats[0]["range"].(map[string]any)
	require.Equal(t, float64(0), reset["sheetId"])
	require.Equal(t, float64(1), reset["startRowIndex"])
	require.NotContains(t, reset, "endRowIndex")
	resetColor := cellBackground(t, formats[0])
	require.Equal(t, float64(1), resetColor["blue"])

	pending := formats[1]["range"].(map[string]any)
	require.Equal(t, float64(0), pending["sheetId"])
	require.Equal(t, float64(1), pending["startRowIndex"])
	require.Equal(t, float64(4), pending["endRowIndex"])
	pendingColor := cellBackground(t, formats[1])
	require.Equal(t, float64(1), pendingColor["red"])
	require.NotContains(t, pendingColor, "blue")
}

func cellBackground(t *testing.T, repeat map[string]any) map[string]any {
	t.Helper()
	cell := repeat["cell"].(map[string]any)
	format := cell["userEnteredFormat"].(map[string]any)
	return format["backgroundColor"].(map[string]any)
}

func TestPublishBatchWritesRowsAndStatus(t *testing.T) {
	sink, api := setupSink(t)
	require.NoError(t, sink.CampaignStart(context.Background(), 2))

	err := sink.PublishBatch(context.Background(), testBatch("black shoes", "black shoes", "black sandal"), 1)
	require.NoError(t, err)

	rows, ok := api.find(http.MethodPut, "/values/Sheet2!A2:E3")
	require.True(t, ok, "first batch rows were not written")
	values := rows.body["values"].([]any)
	require.Len(t, values, 2)
	first := values[0].([]any)
	require.Equal(t, "black shoes", first[0])
	require.Equal(t, "https://a.example/black shoes", first[1])
	require.Equal(t, "US $9", first[2])
	require.Equal(t, "%100", first[3])
	require.Equal(t, catalog.SiteAliExpress, first[4])

	status, ok := api.find(http.MethodPut, "/values/User Input!B2")
	require.True(t, ok, "keyword status cell was not updated")
	require.Equal(t,
		[]any{"Fetched Products Successfully"},
		status.body["values"].([]any)[0])
}

func TestPublishBatchSpacerRow(t *testing.T) {
	sink, api := setupSink(t)
	require.NoError(t, sink.CampaignStart(context.Background(), 2))
	require.NoError(t, sink.PublishBatch(context.Background(), testBatch("black shoes", "black shoes"), 1))

	err := sink.PublishBatch(context.Background(), testBatch("white shoes", "white shoes"), 2)
	require.NoError(t, err)

	// first batch occupied row 2, so the second batch starts with a
	// blank spacer on row 3 and its record on row 4
	rows, ok := api.find(http.MethodPut, "/values/Sheet2!A3:E4")
	require.True(t, ok, "second batch rows were not written")
	values := rows.body["values"].([]any)
	require.Len(t, values, 2)
	require.Equal(t, []any{""}, values[0])
	require.Equal(t, "white shoes", values[1].([]any)[0])
}

func TestCampaignStartResetsRowCursor(t *testing.T) {
	sink, api := setupSink(t)
	require.NoError(t, sink.CampaignStart(context.Background(), 1))
	require.NoError(t, sink.PublishBatch(context.Background(), testBatch("black shoes", "a", "b", "c"), 1))
	require.NoError(t, sink.CampaignEnd(context.Background()))

	// a fresh campaign writes from the top again
	require.NoError(t, sink.CampaignStart(context.Background(), 1))
	require.NoError(t, sink.PublishBatch(context.Background(), testBatch("white shoes", "d"), 1))

	_, ok := api.find(http.MethodPut, "/values/Sheet2!A2:E2")
	require.True(t, ok, "second campaign did not restart at the top")
}

func TestNewSinkRequiresSpreadsheetId(t *testing.T) {
	_, err := NewSink(context.Background(), Options{})
	require.Error(t, err)
}

func TestCampaignStartUnknownWorksheet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sheets": [{"properties": {"sheetId": 0, "title": "Wrong"}}]}`))
	}))
	defer server.Close()

	sink, err := NewSink(context.Background(), Options{SpreadsheetId: "book1", BaseUrl: server.URL})
	require.NoError(t, err)

	err = sink.CampaignStart(context.Background(), 1)
	require.ErrorContains(t, err, "no worksheet")
}
