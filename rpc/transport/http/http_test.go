package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ValentinKolb/dShard/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := &httpServerTransport{}
	srv.RegisterHandler(func(serviceID uint64, req []byte) []byte {
		return []byte(fmt.Sprintf("%d:%s", serviceID, req))
	})
	ts := httptest.NewServer(srv.router())
	t.Cleanup(ts.Close)
	return ts
}

func TestRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	cli := NewHttpClientTransport()
	require.NoError(t, cli.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{ts.URL}},
	}))
	defer cli.Close()

	resp, err := cli.Send(common.ServiceShard, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "200:ping", string(resp))
}

func TestEndpointWithoutScheme(t *testing.T) {
	ts := newTestServer(t)

	cli := NewHttpClientTransport()
	require.NoError(t, cli.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints: []string{strings.TrimPrefix(ts.URL, "http://")},
		},
	}))
	resp, err := cli.Send(common.ServiceConfigStore, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "100:x", string(resp))
}

func TestRetryMovesToNextEndpoint(t *testing.T) {
	ts := newTestServer(t)
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	cli := NewHttpClientTransport()
	require.NoError(t, cli.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:  []string{down.URL, ts.URL},
			RetryCount: 2,
		},
	}))
	for i := 0; i < 4; i++ {
		resp, err := cli.Send(common.ServiceShard, []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, "200:x", string(resp))
	}
}

func TestInvalidServiceID(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/abc", "application/octet-stream", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/200")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestSendWithoutConnect(t *testing.T) {
	_, err := NewHttpClientTransport().Send(1, nil)
	assert.Error(t, err)
}
