package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	iface "PostkasseVision/interface"
	"PostkasseVision/pipeline"
	"PostkasseVision/remote"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SessionState is the snapshot served by GET /api/state.
type SessionState struct {
	SessionID   string              `json:"sessionID"`
	State       string              `json:"state"`
	Guidance    iface.GuidanceState `json:"guidance"`
	Annotations int                 `json:"annotations"`
	FrameSeq    uint64              `json:"frameSeq"`
}

// Controller is the live session the control API drives.
type Controller interface {
	Snapshot() SessionState
	Latest() *iface.OverlayModel
	Subscribe() (<-chan *iface.OverlayModel, func())
	CaptureAndAnalyze(ctx context.Context) (*iface.AnalysisResult, error)
	Reset() error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 2 * time.Second

func NewControlRouter(ctl Controller, log *zap.Logger) *gin.Engine {
	r := newEngine(log)
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": ctl.Snapshot()})
	})
	r.POST("/api/capture", func(c *gin.Context) {
		res, err := ctl.CaptureAndAnalyze(c.Request.Context())
		if err != nil {
			status, body := captureError(err)
			c.JSON(status, body)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": res})
	})
	r.POST("/api/session/reset", func(c *gin.Context) {
		if err := ctl.Reset(); err != nil {
			if errors.Is(err, pipeline.ErrCaptureInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": "capture_in_progress", "message": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reset_failed", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": ctl.Snapshot()})
	})
	r.GET("/ws/overlay", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		streamOverlay(conn, ctl, log)
	})
	return r
}

func captureError(err error) (int, gin.H) {
	var ce *pipeline.CaptureError
	var ue *remote.UploadError
	switch {
	case errors.Is(err, pipeline.ErrCaptureInProgress):
		return http.StatusConflict, gin.H{"error": "capture_in_progress", "message": err.Error()}
	case errors.Is(err, pipeline.ErrNotStreaming):
		return http.StatusConflict, gin.H{"error": "not_streaming", "message": err.Error()}
	case errors.As(err, &ce):
		return http.StatusBadGateway, gin.H{"error": "capture_failed", "message": err.Error()}
	case errors.As(err, &ue):
		return http.StatusBadGateway, gin.H{"error": "upload_failed", "kind": ue.Kind.String(), "message": err.Error()}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()}
	}
}

// streamOverlay writes the latest model and then every published one until
// the client goes away.
func streamOverlay(conn *websocket.Conn, ctl Controller, log *zap.Logger) {
	defer conn.Close()
	models, unsubscribe := ctl.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(m *iface.OverlayModel) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(m); err != nil {
			log.Debug("overlay stream closed", zap.Error(err))
			return false
		}
		return true
	}
	if !send(ctl.Latest()) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case m, ok := <-models:
			if !ok || !send(m) {
				return
			}
		}
	}
}
