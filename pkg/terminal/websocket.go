package terminal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/antibyte/raamcode/pkg/configuration"
	"github.com/antibyte/raamcode/pkg/logger"
	"github.com/antibyte/raamcode/pkg/shared"

	"github.com/gorilla/websocket"
)

// WebSocket-Konfigurationswerte, siehe [Network] Sektion in settings.cfg

func getWriteWait() time.Duration {
	return configuration.GetDuration("Network", "write_wait_timeout", 10*time.Second)
}

func getPongWait() time.Duration {
	return configuration.GetDuration("Network", "pong_timeout", 90*time.Second)
}

func getPingPeriod() time.Duration {
	return (getPongWait() * 9) / 10
}

func getMaxMessageSize() int64 {
	return int64(configuration.GetInt("Network", "max_message_size_kb", 64) * 1024)
}

func getMaxChannelBuffer() int {
	return configuration.GetInt("Network", "max_channel_buffer", 256)
}

// writeMessage serialisiert eine Nachricht und stellt sie in die Sendewarteschlange
func (c *Client) writeMessage(msg shared.Message) {
	jsonBytes, err := json.Marshal(msg)
	if err != nil {
		logger.Error(logger.AreaTerminal, "Error marshalling message: %v", err)
		return
	}
	c.Send(jsonBytes)
}

// Send queues a frame. A client whose queue is full is disconnected.
func (c *Client) Send(message []byte) {
	select {
	case <-c.shutdown:
		return
	default:
	}

	select {
	case c.send <- message:
	default:
		logger.Warn(logger.AreaTerminal, "Send channel blocked for client %s, scheduling cleanup", c.ipAddress)
		go c.handler.cleanupClient(c)
	}
}

// readPump liest Anfragen vom WebSocket und beantwortet sie der Reihe nach
func (c *Client) readPump() {
	defer c.handler.cleanupClient(c)

	c.conn.SetReadLimit(getMaxMessageSize())
	c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				logger.WebSocketWarn("Unexpected close error for client %s: %v", c.ipAddress, err)
			} else {
				logger.WebSocketDebug("Normal close for client %s: %v", c.ipAddress, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		req, err := c.handler.validator.Decode(message)
		if err != nil {
			logger.Warn(logger.AreaTerminal, "Invalid request from %s: %v", c.ipAddress, err)
			c.writeMessage(shared.Message{Type: shared.MessageTypeError, Content: "INVALID REQUEST: " + err.Error()})
			continue
		}

		// Abbruch beim Schließen der Verbindung
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.shutdown:
				cancel()
			case <-ctx.Done():
			}
		}()
		messages := c.handler.ProcessRequest(ctx, c.sessionID, req)
		cancel()

		c.handler.SendMessagesToClient(c, messages)
	}
}

// writePump schreibt Nachrichten aus der Warteschlange und sendet Pings
func (c *Client) writePump() {
	ticker := time.NewTicker(getPingPeriod())
	defer func() {
		ticker.Stop()
		c.handler.cleanupClient(c)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.WebSocketDebug("Write to client %s failed: %v", c.ipAddress, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.WebSocketError("Failed to send ping to client %s: %v", c.ipAddress, err)
				return
			}
		case <-c.shutdown:
			return
		}
	}
}
