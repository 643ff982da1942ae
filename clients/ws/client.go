// Package ws provides a WebSocket client for the Orchestra gateway event stream.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/dohr-michael/orchestra/internal/gateway/ws"
)

// Client is a WebSocket client for the Orchestra gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the gateway WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

// Subscribe restricts pushed events to the given types (all when empty) and
// returns the request ID of the subscribe frame.
func (c *Client) Subscribe(eventTypes ...string) (string, error) {
	return c.request(wsprotocol.MethodSubscribe, wsprotocol.SubscribeParams{Events: eventTypes})
}

// RequestState asks for the orchestrator state. The answer arrives as a
// response frame carrying the returned request ID.
func (c *Client) RequestState() (string, error) {
	return c.request(wsprotocol.MethodGetState, nil)
}

func (c *Client) request(method wsprotocol.Method, params any) (string, error) {
	seq := atomic.AddUint64(&c.reqSeq, 1)

	frame := wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     fmt.Sprintf("req-%d", seq),
		Method: string(method),
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return "", err
		}
		frame.Params = data
	}

	data, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return "", err
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return "", err
	}
	return frame.ID, nil
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
