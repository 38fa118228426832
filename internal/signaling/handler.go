package signaling

import (
	"net/http"

	"interview-platform/internal/auth"
	"interview-platform/pkg/logger"
	"interview-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced at the edge; tokens gate the upgrade here.
		return true
	},
}

// ServeWS upgrades an authenticated request to a hub connection. The auth
// middleware has already attached the verified principal.
func ServeWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := auth.PrincipalFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "principal required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.FromGin(c).Error("websocket upgrade failed", "err", err)
			return
		}

		log := logger.FromGin(c).With("principal_id", p.UserID)
		client := newClient(hub, conn, p.UserID, p.Role, log)
		utils.ConnectedClients.Inc()
		log.Info("websocket connected")

		go client.writePump()
		go client.readPump()
	}
}
