package export

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-chargeback/pkg/platform"
)

func oracleServer(t *testing.T, handler http.HandlerFunc) *PromOracle {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPromOracle(srv.URL, platform.NewHTTPClient(1, 5*time.Second, 100))
}

func TestIsPublishedExactTimestampMatch(t *testing.T) {
	o := oracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		assert.Equal(t, "timestamp("+PublishedMetricName+")", r.URL.Query().Get("query"))
		ts := r.URL.Query().Get("time")
		// value[0] echoes the evaluation time; value[1] is the marker
		// sample's own timestamp via timestamp().
		fmt.Fprintf(w, `{"status":"success","data":{"result":[{"value":[%s,"%s"]}]}}`, ts, ts)
	})

	ok, err := o.IsPublished(context.Background(), slice)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsPublishedRejectsLookbackHit(t *testing.T) {
	// The instant query can resolve a stale sample from an earlier hour
	// via the lookback delta. The evaluation time still echoes the
	// queried hour, but the sample's own timestamp gives it away.
	o := oracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		stale := slice.Add(-time.Hour).Unix()
		fmt.Fprintf(w, `{"status":"success","data":{"result":[{"value":[%d,"%d"]}]}}`,
			slice.Unix(), stale)
	})

	ok, err := o.IsPublished(context.Background(), slice)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsPublishedEmptyResult(t *testing.T) {
	o := oracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"result":[]}}`)
	})

	ok, err := o.IsPublished(context.Background(), slice)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsPublishedBackendError(t *testing.T) {
	o := oracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := o.IsPublished(context.Background(), slice)
	assert.Error(t, err)
}
