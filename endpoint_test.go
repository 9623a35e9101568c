package spdy

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type closeTrackingConnection struct {
	opened int32
	closed int32
}

func (c *closeTrackingConnection) Opened()  { atomic.AddInt32(&c.opened, 1) }
func (c *closeTrackingConnection) OnClose() { atomic.AddInt32(&c.closed, 1) }

func TestEndPointFillAndFlush(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	ep := newEndPoint(local, 0)
	go remote.Write([]byte("ping"))

	b := make([]byte, 4)
	n, err := io.ReadFull(ep, b)
	assert.NoError(t, err)
	assert.Equal(t, "ping", string(b[:n]))

	go func() {
		out := make([]byte, 4)
		io.ReadFull(remote, out)
	}()
	n, err = ep.Flush([]byte("pong"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestEndPointReplaceConnectionHandsOffBufferedBytes(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	ep := newEndPoint(local, 0)
	old := &closeTrackingConnection{}
	ep.setConnection(old)
	assert.Equal(t, Connection(old), ep.Connection())

	// an upgrade replaces the bound connection; bytes the old connection
	// had read but not consumed must reach the new one first
	upgraded := &closeTrackingConnection{}
	returned := ep.ReplaceConnection(upgraded, []byte("left"))
	assert.Equal(t, Connection(old), returned)
	assert.Equal(t, Connection(upgraded), ep.Connection())

	go remote.Write([]byte("over"))
	b := make([]byte, 8)
	n, err := ep.Fill(b)
	assert.NoError(t, err)
	assert.Equal(t, "left", string(b[:n]), "Buffered bytes come before socket bytes")

	n, err = ep.Fill(b)
	assert.NoError(t, err)
	assert.Equal(t, "over", string(b[:n]))
}

func TestEndPointCloseNotifiesOnce(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	ep := newEndPoint(local, 0)
	c := &closeTrackingConnection{}
	ep.setConnection(c)

	assert.NoError(t, ep.Close())
	assert.NoError(t, ep.Close(), "Double close should be tolerated")
	assert.EqualValues(t, 1, atomic.LoadInt32(&c.closed), "OnClose fires exactly once")
}

func TestEndPointIdleTimeout(t *testing.T) {
	server, err := net.Listen("tcp", "localhost:0")
	if !assert.NoError(t, err) {
		return
	}
	defer server.Close()
	go func() {
		conn, acceptErr := server.Accept()
		if acceptErr == nil {
			// hold the peer open without sending anything
			defer conn.Close()
			time.Sleep(2 * time.Second)
		}
	}()

	conn, err := net.Dial("tcp", server.Addr().String())
	if !assert.NoError(t, err) {
		return
	}

	ep := newEndPoint(conn, 100*time.Millisecond)
	b := make([]byte, 1)
	start := time.Now()
	_, err = ep.Fill(b)
	assert.Error(t, err, "An idle endpoint should be closed by its idle timeout")
	assert.True(t, time.Since(start) < time.Second, "Idle close should happen promptly")
}
