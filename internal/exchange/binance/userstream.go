package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"exhub/internal/exchange"
	"exhub/internal/logger"
)

// userStream 持有 listenKey、单流连接以及续期协程。
type userStream struct {
	listenKey string
	conn      *streamClient
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeKey  func(ctx context.Context, key string) error
}

// startUserStreamLocked 申请 listenKey 并连接用户数据流；调用方持有 a.mu。
func (a *Adapter) startUserStreamLocked(ctx context.Context) error {
	if a.user != nil {
		a.MarkWired("", exchange.KindUserData)
		return nil
	}
	key, err := a.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return fmt.Errorf("binance listen key: %w", err)
	}
	conn := newStreamClient(a.set.userStreamURL(key), 1, func(_ string, data json.RawMessage) { a.onUserFrame(data) })
	if err := conn.Connect(ctx, func(err error) {
		logger.Warnf("[binance] %s 用户数据流断开: %v", a.ID(), err)
	}); err != nil {
		_ = a.client.NewCloseUserStreamService().ListenKey(key).Do(ctx)
		return fmt.Errorf("binance user stream: %w", err)
	}
	kaCtx, cancel := context.WithCancel(context.Background())
	us := &userStream{
		listenKey: key,
		conn:      conn,
		cancel:    cancel,
		closeKey: func(ctx context.Context, key string) error {
			return a.client.NewCloseUserStreamService().ListenKey(key).Do(ctx)
		},
	}
	us.wg.Add(1)
	go func() {
		defer us.wg.Done()
		a.keepAlive(kaCtx, key)
	}()
	a.user = us
	a.MarkWired("", exchange.KindUserData)
	logger.Infof("[binance] %s 用户数据流已连接", a.ID())
	return nil
}

func (a *Adapter) keepAlive(ctx context.Context, key string) {
	ticker := time.NewTicker(a.set.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := a.client.NewKeepaliveUserStreamService().ListenKey(key).Do(reqCtx)
			cancel()
			if err != nil {
				logger.Warnf("[binance] %s listenKey 续期失败: %v", a.ID(), err)
			}
		}
	}
}

func (u *userStream) close(ctx context.Context) {
	u.cancel()
	u.wg.Wait()
	u.conn.Close()
	if err := u.closeKey(ctx, u.listenKey); err != nil {
		logger.Debugf("[binance] 关闭 listenKey 失败: %v", err)
	}
}
