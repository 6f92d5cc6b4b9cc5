// Package admin exposes the operator console over HTTP: the host-side
// counterpart of the device's local UI. It only calls the engine facade.
package admin

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fatiguelab/dialctl/internal/engine"
	"github.com/fatiguelab/dialctl/internal/payload"
	"github.com/fatiguelab/dialctl/internal/protocol"
)

// Server wires admin routes onto a gin router.
type Server struct {
	name      string
	engine    *engine.Engine
	startedAt time.Time
}

func NewServer(name string, eng *engine.Engine) *Server {
	return &Server{name: name, engine: eng, startedAt: time.Now()}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.startedAt).String(),
			"component": s.name,
			"version":   "0.0.1",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/security", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.engine.SecuritySettings())
	})

	r.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"peers": s.peerList(),
			"count": s.engine.ApprovedPeerCount(),
		})
	})

	r.DELETE("/peers", func(c *gin.Context) {
		s.engine.ClearApprovedPeers()
		c.JSON(http.StatusOK, gin.H{"count": 0})
	})

	r.DELETE("/peers/:addr", func(c *gin.Context) {
		addr, err := protocol.ParseAddr(c.Param("addr"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
			return
		}
		if !s.engine.RemoveApprovedPeer(addr) {
			c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": addr.String()})
	})

	r.GET("/target", func(c *gin.Context) {
		addr, ok := s.engine.TargetDeviceAddr()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no paired target"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"target": addr.String()})
	})

	r.POST("/pairing/start", func(c *gin.Context) {
		if !s.engine.StartPairing() {
			c.JSON(http.StatusConflict, gin.H{"error": "pairing attempt already active"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"state": s.engine.PairingState().String()})
	})

	r.POST("/pairing/cancel", func(c *gin.Context) {
		s.engine.CancelPairing()
		c.JSON(http.StatusOK, gin.H{"state": s.engine.PairingState().String()})
	})

	r.GET("/pairing", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"state": s.engine.PairingState().String()})
	})

	r.POST("/discovery", func(c *gin.Context) {
		if !s.engine.SendDeviceDiscovery() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "send failed"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"sent": "device_discovery"})
	})

	r.POST("/commands/:command", func(c *gin.Context) {
		commandID, ok := commandByName(c.Param("command"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command"})
			return
		}
		var body struct {
			Payload string `json:"payload"` // hex, optional
		}
		_ = c.ShouldBindJSON(&body)
		raw, err := hex.DecodeString(body.Payload)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be hex"})
			return
		}
		if !s.engine.SendCommand(payload.DeviceIDFatigueTester, commandID, raw) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "send failed"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"sent": c.Param("command")})
	})

	r.POST("/config", func(c *gin.Context) {
		var cfg payload.Config
		if err := c.ShouldBindJSON(&cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !s.engine.SendConfigSet(payload.DeviceIDFatigueTester, cfg.Encode()) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "send failed"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"sent": "config_set"})
	})

	r.GET("/config", func(c *gin.Context) {
		if !s.engine.SendConfigRequest(payload.DeviceIDFatigueTester) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "send failed"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"sent": "config_request"})
	})
}

func (s *Server) peerList() []gin.H {
	peers := s.engine.ApprovedPeers()
	out := make([]gin.H, 0, len(peers))
	for _, p := range peers {
		out = append(out, gin.H{
			"addr": p.Addr.String(),
			"type": p.Type.String(),
			"name": p.Name,
		})
	}
	return out
}

func commandByName(name string) (byte, bool) {
	switch name {
	case "start":
		return payload.CmdStart, true
	case "pause":
		return payload.CmdPause, true
	case "resume":
		return payload.CmdResume, true
	case "stop":
		return payload.CmdStop, true
	case "bounds":
		return payload.CmdRunBoundsFinding, true
	default:
		return 0, false
	}
}
