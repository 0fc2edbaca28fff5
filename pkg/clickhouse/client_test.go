package clickhouse

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/sink"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer records request bodies and answers with a fixed status and
// body. Table lookups are answered from tables when set.
type fakeServer struct {
	mu       sync.Mutex
	queries  []string
	status   int
	response string
	tables   map[string]bool
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.queries = append(f.queries, string(body))
	f.mu.Unlock()

	response := f.response

	if f.tables != nil && strings.Contains(string(body), "system.tables") {
		response = `{"data":[],"rows":0}`

		for name, exists := range f.tables {
			if exists && strings.Contains(string(body), "name = '"+name+"'") {
				response = `{"data":[{"count":"1"}],"rows":1}`
			}
		}
	}

	w.WriteHeader(f.status)
	_, _ = w.Write([]byte(response))
}

func newTestClient(t *testing.T, f *fakeServer) ClientInterface {
	t.Helper()

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	c, err := NewClient(log, &Config{URL: srv.URL + "/", Debug: true})
	require.NoError(t, err)

	return c
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(logrus.New(), &Config{})
	assert.ErrorIs(t, err, ErrURLRequired)
}

func TestQueryOne(t *testing.T) {
	f := &fakeServer{status: http.StatusOK, response: `{"data":[{"count":"3"}],"rows":1}`}
	c := newTestClient(t, f)

	exists, err := TableExists(context.Background(), c, "default", "obs")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Contains(t, f.queries[0], "FORMAT JSON")
	assert.Contains(t, f.queries[0], "name = 'obs'")
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{name: "json exception", response: `{"exception":"Code: 60. Table missing"}`, want: "Table missing"},
		{name: "plain text", response: "Code: 62. Syntax error\n", want: "Syntax error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeServer{status: http.StatusBadRequest, response: tt.response})

			_, err := c.Execute(context.Background(), "SELECT broken")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrClickHouseResponse)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBulkInsert(t *testing.T) {
	f := &fakeServer{status: http.StatusOK}
	c := newTestClient(t, f)

	assert.ErrorIs(t, c.BulkInsert(context.Background(), "t", "not a slice"), ErrDataMustBeSlice)

	require.NoError(t, c.BulkInsert(context.Background(), "t", []int{}))
	assert.Empty(t, f.queries, "empty inserts send nothing")
}

func TestSinkWritesLongFormatRows(t *testing.T) {
	f := &fakeServer{status: http.StatusOK, tables: map[string]bool{}}
	c := newTestClient(t, f)

	s := NewSink(logrus.New(), c, &Config{Database: "gridstat", Table: "observations"})
	require.NoError(t, s.Setup(context.Background(), ""))

	series := &raster.Series{
		Dataset:    "era5",
		TimeColumn: "datetime",
		Columns:    []string{"ERA5_PRECIPITATION"},
		Observations: []raster.Observation{
			{Label: "1999-01-01 00:00:00", Time: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC), Values: []float64{0.5}, Sources: 1},
			{Label: "1999-01-01 01:00:00", Time: time.Date(1999, 1, 1, 1, 0, 0, 0, time.UTC), Values: []float64{raster.NoData()}},
		},
	}

	require.NoError(t, s.WriteTable(context.Background(), sink.Table{RunID: "r1", Name: "ERA5_hourly", Series: series}))

	require.Len(t, f.queries, 4)
	assert.Equal(t, "SELECT 1", f.queries[0])
	assert.Contains(t, f.queries[1], "database = 'gridstat' AND name = 'observations'")
	assert.Contains(t, f.queries[2], "CREATE TABLE IF NOT EXISTS gridstat.observations")

	lines := strings.Split(strings.TrimSpace(f.queries[3]), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "INSERT INTO gridstat.observations FORMAT JSONEachRow", lines[0])

	var present, missing map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &present))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &missing))

	assert.Equal(t, 0.5, present["value"])
	assert.Equal(t, "ERA5_PRECIPITATION", present["column_name"])
	assert.Equal(t, "r1", present["run_id"])
	assert.Nil(t, missing["value"])
	assert.Contains(t, missing, "value")

	require.NoError(t, s.Close())
}

func TestSinkSetupKeepsExistingTable(t *testing.T) {
	f := &fakeServer{status: http.StatusOK, tables: map[string]bool{"observations": true}}
	c := newTestClient(t, f)

	s := NewSink(logrus.New(), c, &Config{Database: "gridstat", Table: "observations"})
	require.NoError(t, s.Setup(context.Background(), ""))

	require.Len(t, f.queries, 2)
	assert.Contains(t, f.queries[1], "system.tables")
	for _, q := range f.queries {
		assert.NotContains(t, q, "CREATE TABLE")
	}
}

func TestTruncateQuery(t *testing.T) {
	assert.Equal(t, "SELECT 1", truncateQuery("SELECT 1"))
	assert.Equal(t, strings.Repeat("a", 500), truncateQuery(strings.Repeat("a", 500)))
	assert.Equal(t, strings.Repeat("a", 500)+"...", truncateQuery(strings.Repeat("a", 600)))
}
