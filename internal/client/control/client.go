package control

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Client speaks the control protocol over one connection.
type Client struct {
	conn net.Conn
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Send writes cmd and waits for the reply.
func (c *Client) Send(ctx context.Context, cmd Command) (Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := WriteJSON(c.conn, cmd); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", cmd.Name, err)
	}

	var resp Response
	if err := ReadJSON(c.conn, &resp); err != nil {
		return Response{}, fmt.Errorf("read %s reply: %w", cmd.Name, err)
	}
	return resp, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Send dials addr, sends a single command and closes the connection.
func Send(ctx context.Context, addr string, cmd Command) (Response, error) {
	c, err := Dial(ctx, addr)
	if err != nil {
		return Response{}, err
	}
	defer c.Close()
	return c.Send(ctx, cmd)
}
