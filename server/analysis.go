package server

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"PostkasseVision/delivery"
	"PostkasseVision/engine"
	iface "PostkasseVision/interface"
	"PostkasseVision/monitor"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var allowedExtensions = map[string]bool{"png": true, "jpg": true, "jpeg": true}

// Analyzer classifies the mailboxes in an image file.
type Analyzer func(path string) ([]engine.Mailbox, error)

// RouteRequest is the body of POST /route.
type RouteRequest struct {
	Parcels   []delivery.Parcel  `json:"pakker"`
	Mailboxes []delivery.Mailbox `json:"postkasser"`
}

// NewAnalysisRouter serves POST /analyze, POST /stairwell, POST /route and
// GET /health. Uploads are kept in uploadDir under their sanitized file
// name.
func NewAnalysisRouter(uploadDir string, analyze Analyzer, log *zap.Logger) (*gin.Engine, error) {
	if analyze == nil {
		analyze = engine.AnalyzeFile
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, err
	}
	r := newEngine(log)
	r.POST("/analyze", func(c *gin.Context) {
		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image part"})
			return
		}
		if file.Filename == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No selected file"})
			return
		}
		filename := secureFilename(file.Filename)
		if !allowedFile(filename) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type. Allowed: png, jpg, jpeg"})
			return
		}
		path := filepath.Join(uploadDir, filename)
		if err := c.SaveUploadedFile(file, path); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file: " + err.Error()})
			return
		}
		log.Info("image received, analyzing", zap.String("path", path))

		boxes, err := analyze(path)
		if err != nil {
			log.Error("analysis failed", zap.String("path", path), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		monitor.AnalysesTotal.Inc()
		results := engine.Results(boxes)
		log.Info("analysis success", zap.Int("mailboxes", len(results)))
		c.JSON(http.StatusOK, iface.AnalysisResult{
			Success:    true,
			Filename:   filename,
			Postkasser: results,
			Count:      len(results),
		})
	})
	r.POST("/stairwell", func(c *gin.Context) {
		stairwell := c.PostForm("oppgang")
		if stairwell == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No stairwell id"})
			return
		}
		form, err := c.MultipartForm()
		if err != nil || len(form.File["images"]) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image part"})
			return
		}
		var stills [][]engine.Mailbox
		for i, file := range form.File["images"] {
			filename := secureFilename(file.Filename)
			if !allowedFile(filename) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type. Allowed: png, jpg, jpeg"})
				return
			}
			path := filepath.Join(uploadDir, fmt.Sprintf("%s_%d_%s", secureFilename(stairwell), i, filename))
			if err := c.SaveUploadedFile(file, path); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file: " + err.Error()})
				return
			}
			boxes, err := analyze(path)
			if err != nil {
				log.Error("analysis failed", zap.String("path", path), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			monitor.AnalysesTotal.Inc()
			stills = append(stills, boxes)
		}
		mailboxes := engine.Aggregate(stairwell, stills, time.Now())
		log.Info("stairwell analysed",
			zap.String("stairwell", stairwell),
			zap.Int("stills", len(stills)),
			zap.Int("mailboxes", len(mailboxes)))
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"oppgang_id": stairwell,
			"postkasser": mailboxes,
			"count":      len(mailboxes),
		})
	})
	r.POST("/route", func(c *gin.Context) {
		var req RouteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res := delivery.SimulateRoute(req.Parcels, req.Mailboxes)
		log.Info("route simulated",
			zap.Int("parcels", res.Parcels),
			zap.Int("direct", res.Direct),
			zap.Int("pickup", res.PickupPoint))
		if c.Query("format") == "text" {
			var buf bytes.Buffer
			if err := delivery.WriteReport(&buf, res); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.String(http.StatusOK, buf.String())
			return
		}
		c.JSON(http.StatusOK, res)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "running", "message": "Postkasse Vision API Ready"})
	})
	return r, nil
}

func allowedFile(name string) bool {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return false
	}
	return allowedExtensions[strings.ToLower(name[i+1:])]
}

// secureFilename reduces an uploaded name to a safe base name of ASCII
// letters, digits, dots, dashes and underscores.
func secureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), "._")
}
