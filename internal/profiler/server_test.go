package profiler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_StartAndShutdown(t *testing.T) {
	server := New(0, zerolog.Nop())
	assert.Empty(t, server.Addr())

	require.NoError(t, server.Start(context.Background()))
	addr := server.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/debug/pprof/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	_, err = http.Get("http://" + addr + "/debug/pprof/")
	assert.Error(t, err)
}
