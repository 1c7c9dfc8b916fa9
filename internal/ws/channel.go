package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/schedule-live/internal/live"
)

// wsChannel adapts a gorilla connection to live.Channel. Outbound messages
// go through a bounded queue drained by writePump; Send never touches the
// network.
type wsChannel struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writeWait time.Duration

	first     []byte        // written ahead of the queue, set before ready closes
	ready     chan struct{} // closed by markReady
	readyOnce sync.Once
	pumpDone  chan struct{} // closed when writePump returns
}

func newWSChannel(conn *websocket.Conn, bufferSize int, writeWait time.Duration) *wsChannel {
	return &wsChannel{
		conn:      conn,
		send:      make(chan []byte, bufferSize),
		done:      make(chan struct{}),
		writeWait: writeWait,
		ready:     make(chan struct{}),
		pumpDone:  make(chan struct{}),
	}
}

func (ch *wsChannel) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ch.done:
		return live.ErrChannelClosed
	default:
	}

	select {
	case ch.send <- payload:
		return nil
	case <-ch.done:
		return live.ErrChannelClosed
	default:
		return live.ErrSendBufferFull
	}
}

// Close stops accepting messages, lets the write pump flush what is already
// queued (bounded by writeWait), then sends a close frame with code and tears
// the connection down. The blocked reader observes the close and exits.
func (ch *wsChannel) Close(code int, reason string) error {
	err := live.ErrChannelClosed
	ch.closeOnce.Do(func() {
		close(ch.done)
		timer := time.NewTimer(ch.writeWait)
		select {
		case <-ch.pumpDone:
		case <-timer.C:
		}
		timer.Stop()
		msg := websocket.FormatCloseMessage(code, reason)
		werr := ch.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ch.writeWait))
		if errors.Is(werr, websocket.ErrCloseSent) {
			werr = nil
		}
		err = errors.Join(werr, ch.conn.Close())
	})
	return err
}

// sendFirst hands payload to the pump to be written before anything queued
// and releases the pump. Only the first call has an effect.
func (ch *wsChannel) sendFirst(payload []byte) error {
	ch.readyOnce.Do(func() {
		ch.first = payload
		close(ch.ready)
	})
	return nil
}

// markReady releases the pump without a leading message.
func (ch *wsChannel) markReady() {
	ch.readyOnce.Do(func() { close(ch.ready) })
}

// writePump waits for the leading message, writes queued messages until the
// channel is closed, then flushes whatever is still queued. Closing before
// the pump is released discards the queue.
func (ch *wsChannel) writePump(logger *zap.Logger) {
	defer close(ch.pumpDone)

	select {
	case <-ch.ready:
	case <-ch.done:
		select {
		case <-ch.ready:
		default:
			return
		}
	}

	if ch.first != nil {
		if err := ch.write(ch.first); err != nil {
			logger.Debug("websocket write error", zap.Error(err))
			ch.conn.Close()
			return
		}
	}

	for {
		select {
		case <-ch.done:
			ch.flushQueued(logger)
			return
		case message := <-ch.send:
			if err := ch.write(message); err != nil {
				logger.Debug("websocket write error", zap.Error(err))
				ch.conn.Close()
				return
			}
		}
	}
}

func (ch *wsChannel) flushQueued(logger *zap.Logger) {
	for {
		select {
		case message := <-ch.send:
			if err := ch.write(message); err != nil {
				logger.Debug("websocket write error during flush", zap.Error(err))
				return
			}
		default:
			return
		}
	}
}

func (ch *wsChannel) write(message []byte) error {
	ch.conn.SetWriteDeadline(time.Now().Add(ch.writeWait))
	return ch.conn.WriteMessage(websocket.TextMessage, message)
}

var _ live.Channel = (*wsChannel)(nil)
