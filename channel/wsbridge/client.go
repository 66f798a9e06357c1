package wsbridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/The404Studios/Yurt-Cord-sub006/channel"
)

// Client is one daemon's connection to a bridge, joined to a single group.
// It carries both sides of the channel contract for that group.
type Client struct {
	log     *slog.Logger
	conn    *websocket.Conn
	peerID  string
	groupID string

	writeMu sync.Mutex

	subMu   sync.Mutex
	subs    map[uint64]channel.PayloadFunc
	nextSub uint64

	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ channel.Channel    = (*Client)(nil)
	_ channel.Subscriber = (*Client)(nil)
)

// Dial connects to a bridge endpoint (ws:// or wss://) and joins a group
// under the given peer id.
func Dial(ctx context.Context, bridgeURL, groupID, peerID string) (*Client, error) {
	return DialTLS(ctx, bridgeURL, groupID, peerID, nil)
}

// DialTLS is Dial with an explicit TLS config for wss:// endpoints,
// typically a pinned config from the certs package. A nil config uses the
// default verification.
func DialTLS(ctx context.Context, bridgeURL, groupID, peerID string, tlsConf *tls.Config) (*Client, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: bad bridge url %q: %w", bridgeURL, err)
	}
	q := u.Query()
	q.Set("group", groupID)
	q.Set("peer", peerID)
	u.RawQuery = q.Encode()

	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = tlsConf

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: dial %s: %w", u.Host, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		log:     slog.With("component", "wsbridge", "peer", peerID),
		conn:    conn,
		peerID:  peerID,
		groupID: groupID,
		subs:    make(map[uint64]channel.PayloadFunc),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	c.log.Info("joined bridge", "url", u.Host, "group", groupID)
	return c, nil
}

// Done is closed when the bridge connection ends, for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Publish sends one payload to the joined group.
func (c *Client) Publish(_ context.Context, groupID string, payload []byte) error {
	if groupID != c.groupID {
		return fmt.Errorf("wsbridge: not joined to group %q", groupID)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("wsbridge: publish: %w", err)
	}
	return nil
}

// Subscribe registers fn for payloads from other peers in the joined group.
func (c *Client) Subscribe(groupID string, fn channel.PayloadFunc) func() {
	if groupID != c.groupID {
		c.log.Warn("subscribe to unjoined group ignored", "group", groupID)
		return func() {}
	}

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// Close sends a normal close frame and drops the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
	})
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("bridge connection lost", "error", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		sender, payload, err := splitEnvelope(msg)
		if err != nil {
			c.log.Warn("dropping malformed bridge message", "error", err)
			continue
		}

		c.subMu.Lock()
		fns := make([]channel.PayloadFunc, 0, len(c.subs))
		for _, fn := range c.subs {
			fns = append(fns, fn)
		}
		c.subMu.Unlock()

		for _, fn := range fns {
			fn(sender, payload)
		}
	}
}
