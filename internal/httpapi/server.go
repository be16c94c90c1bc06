package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"hum/internal/protocol"
	"hum/internal/rooms"
	"hum/internal/ws"
)

const serviceName = "hum-sync"

// Server is the net/http rendition of the API, served with echo.
type Server struct {
	rooms  *rooms.Manager
	ws     *ws.Handler
	router *echo.Echo
}

type statusResponse struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Rooms      int    `json:"rooms"`
	TotalUsers int    `json:"totalUsers"`
}

func NewServer(manager *rooms.Manager, allowedOrigins []string, opts ws.Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if len(allowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: allowedOrigins,
			AllowMethods: []string{http.MethodGet},
		}))
	}

	server := &Server{
		rooms:  manager,
		ws:     ws.NewHandler(manager, allowedOrigins, opts),
		router: e,
	}

	e.GET("/", server.handleStatus)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/rooms/:roomId", server.handleGetRoom)
	e.GET("/ws", server.handleWebSocket)

	return server
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleStatus(c echo.Context) error {
	stats := s.rooms.Stats()
	return c.JSON(http.StatusOK, statusResponse{
		Status:     "ok",
		Service:    serviceName,
		Rooms:      stats.Rooms,
		TotalUsers: stats.Users,
	})
}

func (s *Server) handleGetRoom(c echo.Context) error {
	roomID := c.Param("roomId")
	snapshot, err := s.rooms.Snapshot(roomID)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			return respondError(c, http.StatusNotFound, "room_not_found", err.Error())
		}
		return respondError(c, http.StatusInternalServerError, "state_fetch_failed", err.Error())
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	// the websocket handler owns the connection from here on
	s.ws.ServeHTTP(c.Response(), c.Request())
	return nil
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, protocol.Envelope{
		Event: protocol.EventError,
		Data: protocol.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}
