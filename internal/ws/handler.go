package ws

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	opts       Options
}

func NewHandler(d Dispatcher, allowedOrigins []string, opts Options) *Handler {
	return &Handler{
		dispatcher: d,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return OriginAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the error response
		log.Warn().Err(err).Str("module", "ws").Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	s := NewSession(conn, h.opts)
	log.Info().Str("module", "ws").Str("sid", s.ID()).Str("remote", r.RemoteAddr).Msg("connection upgraded")
	s.Serve(r.Context(), h.dispatcher)
}

// OriginAllowed reports whether a browser origin may open a socket. An empty
// allow list or "*" admits everyone; requests without Origin are not from a
// browser and are admitted.
func OriginAllowed(allowed []string, origin string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
			return true
		}
	}
	return false
}
