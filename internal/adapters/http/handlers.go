package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dkeye/Interview/internal/app/orch"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const credentialsKey = "credentials"

type CheckpointRequest struct {
	DisplayName string `form:"display_name" json:"display_name" binding:"required,max=36"`
	MuteAudio   bool   `form:"mute_audio" json:"mute_audio"`
	MuteVideo   bool   `form:"mute_video" json:"mute_video"`
}

type CheckpointResponse struct {
	Room        domain.RoomID `json:"room"`
	DisplayName string        `json:"display_name"`
	MuteAudio   bool          `json:"mute_audio"`
	MuteVideo   bool          `json:"mute_video"`
}

type handlers struct {
	router *orch.Router
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// checkpoint records the display name and mute flags for one room in the
// cookie session. The signaling endpoint later trusts them.
func (h *handlers) checkpoint(c *gin.Context) {
	room := domain.RoomID(c.Param("room"))
	if err := domain.ValidateRoomID(room); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req CheckpointRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid display_name"})
		return
	}
	profile, err := domain.NewProfile(req.DisplayName, req.MuteAudio, req.MuteVideo)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creds, err := credentials(c)
	if err != nil {
		log.Warn().Str("module", "adapters.http").Err(err).Msg("dropping unreadable session credentials")
		creds = domain.Credentials{}
	}
	creds[room] = *profile
	if err := saveCredentials(c, creds); err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Str("room", string(room)).Str("name", profile.DisplayName).Msg("checkpoint passed")

	c.JSON(http.StatusOK, CheckpointResponse{
		Room:        room,
		DisplayName: profile.DisplayName,
		MuteAudio:   profile.MuteAudio,
		MuteVideo:   profile.MuteVideo,
	})
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.router.Registry.Rooms()})
}

func (h *handlers) listMembers(c *gin.Context) {
	room := domain.RoomID(c.Param("room"))
	c.JSON(http.StatusOK, h.router.Registry.PeersOf(room, ""))
}

func (h *handlers) evictRoom(c *gin.Context) {
	h.router.EvictRoom(domain.RoomID(c.Param("room")))
	c.Status(http.StatusNoContent)
}

func credentials(c *gin.Context) (domain.Credentials, error) {
	session := sessions.Default(c)
	raw, ok := session.Get(credentialsKey).(string)
	if !ok || raw == "" {
		return domain.Credentials{}, nil
	}
	var creds domain.Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("decode session credentials: %w", err)
	}
	if creds == nil {
		creds = domain.Credentials{}
	}
	return creds, nil
}

func saveCredentials(c *gin.Context, creds domain.Credentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	session := sessions.Default(c)
	session.Set(credentialsKey, string(raw))
	return session.Save()
}
