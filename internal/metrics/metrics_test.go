package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	before := testutil.ToFloat64(CyclesTotal.WithLabelValues("ok"))
	CyclesTotal.WithLabelValues("ok").Inc()
	UploadBytesTotal.WithLabelValues("window").Add(1500)
	assert.Equal(t, before+1, testutil.ToFloat64(CyclesTotal.WithLabelValues("ok")))

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `motion_cycles_total{outcome="ok"}`)
	assert.Contains(t, string(body), `motion_upload_bytes_total{path="window"}`)
}
