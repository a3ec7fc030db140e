package sock

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// RemoteError is a non-Ok response
type RemoteError struct {
	Tag     string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

type rawResponse struct {
	Tag   string             `msgpack:"tag"`
	Value msgpack.RawMessage `msgpack:"value"`
}

// Client speaks the socket protocol over one connection. Calls are
// serialized.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to the socket at path
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Single fetches one file and its neighbours
func (c *Client) Single(req SingleRequest) (SingleResponse, error) {
	var resp SingleResponse
	err := c.call(TagSingle, req, &resp)
	return resp, err
}

// List fetches a page of summaries
func (c *Client) List(req ListRequest) (ListResponse, error) {
	var resp ListResponse
	err := c.call(TagList, req, &resp)
	return resp, err
}

// Collate fetches distinct string values
func (c *Client) Collate(req CollateRequest) ([]string, error) {
	var resp []string
	err := c.call(TagCollate, req, &resp)
	return resp, err
}

func (c *Client) call(tag string, args, out any) error {
	value, err := msgpack.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", tag, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WriteFrame(c.conn, Request{Tag: tag, Value: value}); err != nil {
		return err
	}
	data, err := ReadFrame(c.conn)
	if err != nil {
		return err
	}

	var resp rawResponse
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if resp.Tag != TagOk {
		var msg string
		_ = msgpack.Unmarshal(resp.Value, &msg)
		return &RemoteError{Tag: resp.Tag, Message: msg}
	}
	return msgpack.Unmarshal(resp.Value, out)
}
