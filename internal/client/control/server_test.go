package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, context.CancelFunc) {
	t.Helper()
	srv, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return")
		}
	})
	return srv, cancel
}

// answer replies to n requests with the command name as data.
func answer(srv *Server, n int) {
	go func() {
		for range n {
			req := <-srv.Requests()
			req.Reply(OK(map[string]string{"cmd": string(req.Command.Name)}))
		}
	}()
}

func TestServer_CommandReply(t *testing.T) {
	srv, _ := startServer(t)
	answer(srv, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, srv.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	for _, name := range []CommandName{CmdStatus, CmdSync} {
		cmd, err := NewCommand(name, nil)
		require.NoError(t, err)
		resp, err := client.Send(ctx, cmd)
		require.NoError(t, err)
		assert.True(t, resp.OK)
		assert.JSONEq(t, `{"cmd":"`+string(name)+`"}`, string(resp.Data))
	}
}

func TestServer_InvalidCommandKeepsConnection(t *testing.T) {
	srv, _ := startServer(t)
	answer(srv, 1)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, WriteFrame(conn, []byte(`{"sync":{},"status":{}}`)))
	var resp Response
	require.NoError(t, ReadJSON(conn, &resp))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "exactly one key")

	require.NoError(t, WriteFrame(conn, []byte(`{"reboot":{}}`)))
	require.NoError(t, ReadJSON(conn, &resp))
	assert.False(t, resp.OK)

	// the same connection still works
	require.NoError(t, WriteFrame(conn, []byte(`{"status":{}}`)))
	require.NoError(t, ReadJSON(conn, &resp))
	assert.True(t, resp.OK)
}

func TestServer_EOFRemovesConnection(t *testing.T) {
	srv, _ := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.conns) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.conns) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StopAccepting(t *testing.T) {
	srv, _ := startServer(t)
	answer(srv, 1)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	// make sure the connection is being served before closing the listener
	require.NoError(t, WriteFrame(conn, []byte(`{"status":{}}`)))
	var resp Response
	require.NoError(t, ReadJSON(conn, &resp))

	srv.StopAccepting()

	_, err = net.DialTimeout("tcp", srv.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestServer_CloseUnblocksPendingRequest(t *testing.T) {
	srv, _ := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, []byte(`{"sync":{}}`)))
	// nobody consumes Requests
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		srv.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a pending request")
	}
}
