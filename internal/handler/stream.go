package handler

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/codewatch/control-room/internal/auth"
	hubService "github.com/codewatch/control-room/internal/service/hub"
	"github.com/codewatch/control-room/pkg/utils"
)

// Stream admits and upgrades streaming connections. Admission runs before
// the upgrade, so a rejected client never costs a websocket.
type Stream struct {
	hub      *hubService.Hub
	admitter *auth.Admitter
	upgrader websocket.Upgrader
}

// NewStream builds the streaming endpoint handler.
func NewStream(h *hubService.Hub, admitter *auth.Admitter) *Stream {
	return &Stream{
		hub:      h,
		admitter: admitter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *Stream) handleStream(w http.ResponseWriter, r *http.Request) {
	proto, rej := h.admitter.Admit(r)
	if rej != nil {
		log.Printf("[stream] admission rejected from %s: %s", r.RemoteAddr, rej.Reason)
		utils.RespondError(w, rej.Status, rej.Reason)
		return
	}

	// Echo the selected bearer sub-protocol back exactly as offered.
	conn, err := h.upgrader.Upgrade(w, r, http.Header{"Sec-WebSocket-Protocol": {proto}})
	if err != nil {
		log.Printf("[stream] upgrade failed: %v", err)
		return
	}

	h.hub.Register(conn)
}
