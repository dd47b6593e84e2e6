package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAgainstServer(t *testing.T) {
	server, tracker := newTestServer(t, Config{})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	client := NewClient(ts.URL+"/", 0)
	ctx := context.Background()

	require.NoError(t, client.Track(ctx, "btn_archive"))
	require.NoError(t, client.Track(ctx, "btn_archive"))

	report, err := client.Report(ctx)
	require.NoError(t, err)
	require.Len(t, report.TopAllTime, 1)
	assert.Equal(t, "btn_archive", report.TopAllTime[0].ID)
	assert.Equal(t, int64(2), report.TopAllTime[0].Clicks)
	require.NotNil(t, report.Raw)
	assert.Equal(t, tracker.Report().Raw.Features.Keys(), report.Raw.Features.Keys())

	require.NoError(t, client.Reset(ctx))
	assert.Equal(t, 0, tracker.Report().Summary.UsedFeatures)
}

func TestClientReportsAPIErrors(t *testing.T) {
	server, _ := newTestServer(t, Config{})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	err := NewClient(ts.URL, 0).Track(context.Background(), "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "Feature ID is required")
}

func TestClientUnreachable(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	_, err := NewClient(url, 0).Report(context.Background())
	assert.Error(t, err)
}
