package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/callrelay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// writePump owns all writes on the socket, including keep-alive pings.
// Closing the socket on exit unblocks readPump.
func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Settings.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", c.ID()).Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(ctl.Settings.WriteWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", c.ID()).Msg("writePump channel closed")
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(ctl.Settings.WriteWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Settings.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Settings.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, client *core.Client, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", c.ID()).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(client)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.Settings.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Settings.PongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				log.Debug().Str("module", "signal").Str("conn", c.ID()).Msg("peer closed")
			} else {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("readPump read error")
			}
			return
		}
		// any inbound traffic proves liveness
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Settings.PongWait))
		ctl.Orch.OnMessage(client, data)
	}
}
