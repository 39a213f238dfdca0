package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"exhub/internal/logger"

	"github.com/gorilla/websocket"
)

var errStreamClosed = errors.New("binance: stream not connected")

// frameHandler 接收一帧数据；stream 为空表示单流（用户数据流）消息。
type frameHandler func(stream string, data json.RawMessage)

// streamClient 维护一条 Binance 组合流连接。断线时只回调 onDisconnect，重连由管理器负责。
type streamClient struct {
	url       string
	batchSize int
	onFrame   frameHandler

	mu           sync.Mutex
	conn         *websocket.Conn
	writeMu      sync.Mutex
	subscribed   map[string]bool
	pending      map[int64][]string
	nextID       int64
	done         chan struct{}
	onDisconnect func(error)

	stats streamStats
}

type streamStats struct {
	Frames          int64  `json:"frames"`
	SubscribeErrors int64  `json:"subscribe_errors"`
	LastError       string `json:"last_error,omitempty"`
}

func newStreamClient(url string, batchSize int, onFrame frameHandler) *streamClient {
	if batchSize <= 0 {
		batchSize = 150
	}
	return &streamClient{
		url:        strings.TrimSpace(url),
		batchSize:  batchSize,
		onFrame:    onFrame,
		subscribed: make(map[string]bool),
		pending:    make(map[int64][]string),
	}
}

// Connect 建立连接并重放之前订阅过的流。
func (c *streamClient) Connect(ctx context.Context, onDisconnect func(error)) error {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := d.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	c.onDisconnect = onDisconnect
	done := c.done
	streams := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		streams = append(streams, s)
	}
	c.mu.Unlock()
	go c.read(conn, done)
	if len(streams) > 0 {
		if err := c.Subscribe(streams); err != nil {
			logger.Warnf("[binance] 重放订阅失败: %v", err)
		}
	}
	return nil
}

// Close 主动关闭，不触发 onDisconnect；订阅集合保留以便下次 Connect 重放。
func (c *streamClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.pending = make(map[int64][]string)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Reset 清空订阅集合。
func (c *streamClient) Reset() {
	c.mu.Lock()
	c.subscribed = make(map[string]bool)
	c.mu.Unlock()
}

func (c *streamClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Subscribe 按 batchSize 分批发送 SUBSCRIBE。
func (c *streamClient) Subscribe(streams []string) error {
	return c.send("SUBSCRIBE", streams, func(batch []string) {
		for _, s := range batch {
			c.subscribed[s] = true
		}
	})
}

func (c *streamClient) Unsubscribe(streams []string) error {
	return c.send("UNSUBSCRIBE", streams, func(batch []string) {
		for _, s := range batch {
			delete(c.subscribed, s)
		}
	})
}

func (c *streamClient) send(method string, streams []string, apply func([]string)) error {
	for i := 0; i < len(streams); i += c.batchSize {
		end := i + c.batchSize
		if end > len(streams) {
			end = len(streams)
		}
		batch := streams[i:end]
		c.mu.Lock()
		conn := c.conn
		c.nextID++
		id := c.nextID
		if conn != nil && method == "SUBSCRIBE" {
			c.pending[id] = append([]string(nil), batch...)
		}
		c.mu.Unlock()
		if conn == nil {
			return errStreamClosed
		}
		msg := map[string]any{"method": method, "params": batch, "id": id}
		c.writeMu.Lock()
		err := conn.WriteJSON(msg)
		c.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("binance %s: %w", strings.ToLower(method), err)
		}
		c.mu.Lock()
		apply(batch)
		c.mu.Unlock()
	}
	return nil
}

func (c *streamClient) read(conn *websocket.Conn, done chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			c.mu.Lock()
			c.stats.LastError = err.Error()
			cb := c.onDisconnect
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			logger.Warnf("[binance] WS 断开: %v", err)
			if cb != nil {
				cb(err)
			}
			return
		}
		c.dispatchFrame(message)
	}
}

func (c *streamClient) dispatchFrame(b []byte) {
	var frame struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
		ID     *int64          `json:"id"`
		Code   int             `json:"code"`
		Msg    string          `json:"msg"`
		Error  *struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &frame); err != nil {
		logger.Debugf("[binance] 无法解析的帧: %v", err)
		return
	}
	switch {
	case frame.Stream != "":
		c.mu.Lock()
		c.stats.Frames++
		c.mu.Unlock()
		c.onFrame(frame.Stream, frame.Data)
	case frame.Error != nil || frame.Code != 0:
		msg := frame.Msg
		if frame.Error != nil {
			msg = frame.Error.Msg
		}
		c.mu.Lock()
		c.stats.SubscribeErrors++
		c.stats.LastError = msg
		var params []string
		if frame.ID != nil {
			params = c.pending[*frame.ID]
			delete(c.pending, *frame.ID)
		}
		c.mu.Unlock()
		logger.Warnf("[binance] 订阅被拒绝: %s %v", msg, params)
	case frame.ID != nil:
		c.mu.Lock()
		delete(c.pending, *frame.ID)
		c.mu.Unlock()
	default:
		c.mu.Lock()
		c.stats.Frames++
		c.mu.Unlock()
		c.onFrame("", json.RawMessage(b))
	}
}

func (c *streamClient) Stats() streamStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
