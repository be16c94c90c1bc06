package hertzapi

import (
	"context"
	"errors"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog/log"

	"hum/internal/hertzws"
	"hum/internal/protocol"
	"hum/internal/rooms"
)

const serviceName = "hum-sync"

// NewRouter 初始化Hertz路由
func NewRouter(h *server.Hertz, roomManager *rooms.Manager, wsHandler *hertzws.Handler) *server.Hertz {
	h.Use(recoveryMiddleware())
	h.Use(loggerMiddleware())

	// 状态与健康检查
	h.GET("/", handleStatus(roomManager))
	h.GET("/health", handleHealth)
	h.GET("/healthz", func(c context.Context, ctx *app.RequestContext) {
		ctx.String(consts.StatusOK, "ok")
	})

	api := h.Group("/api")
	{
		api.GET("/rooms/:roomId", handleGetRoom(roomManager))
	}

	h.GET("/ws", wsHandler.HandleWebSocket)

	return h
}

// recoveryMiddleware 恢复中间件
func recoveryMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Str("module", "hertzapi").Interface("panic", err).Str("path", string(ctx.Path())).Msg("recovered")
				ctx.String(consts.StatusInternalServerError, "Internal Server Error")
			}
		}()
		ctx.Next(c)
	}
}

// loggerMiddleware 日志中间件
func loggerMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		ctx.Next(c)
		log.Debug().Str("module", "hertzapi").Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).Int("status", ctx.Response.StatusCode()).Msg("request")
	}
}

func handleStatus(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		stats := roomManager.Stats()
		ctx.JSON(consts.StatusOK, statusResponse{
			Status:     "ok",
			Service:    serviceName,
			Rooms:      stats.Rooms,
			TotalUsers: stats.Users,
		})
	}
}

func handleHealth(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]string{"status": "healthy"})
}

// handleGetRoom 获取房间状态处理函数
func handleGetRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := ctx.Param("roomId")
		snapshot, err := roomManager.Snapshot(roomID)
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
				return
			}
			respondError(ctx, consts.StatusInternalServerError, "state_fetch_failed", err.Error())
			return
		}
		ilog.EventInfo(c, "GetRoom", "roomId", roomID, "members", snapshot.Members)
		ctx.JSON(consts.StatusOK, snapshot)
	}
}

type statusResponse struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Rooms      int    `json:"rooms"`
	TotalUsers int    `json:"totalUsers"`
}

// respondError 返回错误响应
func respondError(ctx *app.RequestContext, status int, code, message string) {
	ctx.JSON(status, protocol.Envelope{
		Event: protocol.EventError,
		Data: protocol.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}
