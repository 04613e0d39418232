package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:5000/analyze", cfg.Remote.Endpoint)
	assert.Equal(t, 40.0, cfg.ReferenceWidthCm)
	assert.Equal(t, 0.5, cfg.Detector.MinConfidence)
	assert.Equal(t, 0.1, cfg.Detector.MinSize)
	assert.Equal(t, 20, cfg.Detector.MaxObservations)
	assert.Equal(t, 80, cfg.Camera.JpegQuality)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
mode: analysis-server
display:
  language: nb
detector:
  backend: grpc
  address: detector:50051
  workersNum: 0
remote:
  endpoint: http://10.0.0.2:5001/analyze
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeAnalysisServer, cfg.Mode)
	assert.Equal(t, "nb", cfg.Display.Language)
	assert.Equal(t, 720, cfg.Display.Width)
	assert.Equal(t, BackendGRPC, cfg.Detector.Backend)
	assert.Equal(t, "detector:50051", cfg.Detector.Address)
	assert.Equal(t, 1, cfg.Detector.WorkersNum)
	assert.Equal(t, 20, cfg.Detector.MaxObservations)
	assert.Equal(t, "http://10.0.0.2:5001/analyze", cfg.Remote.Endpoint)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"mode":        func(c *Config) { c.Mode = "batch" },
		"display":     func(c *Config) { c.Display.Width = 0 },
		"language":    func(c *Config) { c.Display.Language = "sv" },
		"frame":       func(c *Config) { c.Detector.FrameQuality = 120 },
		"quality":     func(c *Config) { c.Camera.JpegQuality = 101 },
		"backend":     func(c *Config) { c.Detector.Backend = "onnx" },
		"address":     func(c *Config) { c.Detector.Backend = BackendGRPC; c.Detector.Address = "" },
		"confidence":  func(c *Config) { c.Detector.MinConfidence = 1.5 },
		"size":        func(c *Config) { c.Detector.MinSize = -0.1 },
		"max":         func(c *Config) { c.Detector.MaxObservations = 0 },
		"reference":   func(c *Config) { c.ReferenceWidthCm = 0 },
		"endpoint":    func(c *Config) { c.Remote.Endpoint = "not a url" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	cfg := Default()
	assert.Error(t, Parse([]byte("mode: [live"), &cfg))
}
