package hertzws

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/websocket"
	"github.com/rs/zerolog/log"

	"hum/internal/ws"
)

// Handler WebSocket处理器
type Handler struct {
	dispatcher ws.Dispatcher
	upgrader   websocket.HertzUpgrader
	opts       ws.Options
}

// NewHandler 创建新的WebSocket处理器
func NewHandler(d ws.Dispatcher, allowedOrigins []string, opts ws.Options) *Handler {
	return &Handler{
		dispatcher: d,
		opts:       opts,
		upgrader: websocket.HertzUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(ctx *app.RequestContext) bool {
				return ws.OriginAllowed(allowedOrigins, string(ctx.Request.Header.Peek("Origin")))
			},
		},
	}
}

// HandleWebSocket 升级连接并运行会话直到断开
func (h *Handler) HandleWebSocket(c context.Context, ctx *app.RequestContext) {
	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		s := ws.NewSession(conn, h.opts)
		log.Info().Str("module", "hertzws").Str("sid", s.ID()).Str("remote", ctx.ClientIP()).Msg("connection upgraded")
		s.Serve(c, h.dispatcher)
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "hertzws").Msg("upgrade failed")
	}
}
