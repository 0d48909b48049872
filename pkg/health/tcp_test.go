package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPChecker_ReachableAddressIsHealthy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c := NewTCPChecker(ln.Addr().String())
	res := c.Check(context.Background())
	assert.True(t, res.Healthy)
	assert.Equal(t, CheckTypeTCP, c.Type())
}

func TestTCPChecker_ClosedPortIsUnhealthy(t *testing.T) {
	// Bind a port then close it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewTCPChecker(addr)
	c.Timeout = 500 * time.Millisecond
	res := c.Check(context.Background())
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "connection failed")
}
