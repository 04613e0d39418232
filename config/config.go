package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"

	"PostkasseVision/guidance"

	"gopkg.in/yaml.v3"
)

const (
	ModeLive           = "live"
	ModeAnalysisServer = "analysis-server"
	ModeDetectorServer = "detector-server"

	BackendLocal = "local"
	BackendGRPC  = "grpc"
)

type Display struct {
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	Language string `yaml:"language"`
	Window   bool   `yaml:"window"`
}

type Camera struct {
	Device      int    `yaml:"device"`
	URL         string `yaml:"url"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	JpegQuality int    `yaml:"jpegQuality"`
}

type Detector struct {
	Backend         string  `yaml:"backend"`
	Address         string  `yaml:"address"`
	MinConfidence   float64 `yaml:"minConfidence"`
	MinSize         float64 `yaml:"minSize"`
	MaxObservations int     `yaml:"maxObservations"`
	WorkersNum      int     `yaml:"workersNum"`
	// FrameQuality > 0 sends JPEG frames to the grpc backend instead of raw
	// pixels.
	FrameQuality int `yaml:"frameQuality"`
}

type Remote struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type Server struct {
	ControlPort  int    `yaml:"controlPort"`
	AnalysisPort int    `yaml:"analysisPort"`
	UploadDir    string `yaml:"uploadDir"`
}

type Config struct {
	Mode             string   `yaml:"mode"`
	LogLevel         string   `yaml:"logLevel"`
	MetricsPort      int      `yaml:"metricsPort"`
	GRPCPort         int      `yaml:"grpcPort"`
	ReferenceWidthCm float64  `yaml:"referenceWidthCm"`
	Display          Display  `yaml:"display"`
	Camera           Camera   `yaml:"camera"`
	Detector         Detector `yaml:"detector"`
	Remote           Remote   `yaml:"remote"`
	Server           Server   `yaml:"server"`
}

// Default returns the configuration used when config.yaml omits a field.
func Default() Config {
	return Config{
		Mode:             ModeLive,
		LogLevel:         "info",
		MetricsPort:      50053,
		GRPCPort:         50051,
		ReferenceWidthCm: 40.0,
		Display: Display{
			Width:    720,
			Height:   1280,
			Language: "en",
			Window:   true,
		},
		Camera: Camera{
			Width:       1920,
			Height:      1080,
			JpegQuality: 80,
		},
		Detector: Detector{
			Backend:         BackendLocal,
			Address:         "localhost:50051",
			MinConfidence:   0.5,
			MinSize:         0.1,
			MaxObservations: 20,
			WorkersNum:      1,
		},
		Remote: Remote{
			Endpoint:       "http://localhost:5000/analyze",
			TimeoutSeconds: 30,
		},
		Server: Server{
			ControlPort:  8080,
			AnalysisPort: 5000,
			UploadDir:    "data/uploads",
		},
	}
}

// Load reads a yaml file over the defaults. A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes yaml into cfg, keeping fields absent from data, and
// validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModeAnalysisServer, ModeDetectorServer:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height)
	}
	if !slices.Contains(guidance.Languages(), c.Display.Language) {
		return fmt.Errorf("unsupported display language %q, want one of %v", c.Display.Language, guidance.Languages())
	}
	if c.Camera.JpegQuality < 1 || c.Camera.JpegQuality > 100 {
		return fmt.Errorf("jpegQuality must be between 1 and 100, got %d", c.Camera.JpegQuality)
	}
	switch c.Detector.Backend {
	case BackendLocal:
	case BackendGRPC:
		if c.Detector.Address == "" {
			return errors.New("detector address cannot be empty for the grpc backend")
		}
	default:
		return fmt.Errorf("invalid detector backend %q", c.Detector.Backend)
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("minConfidence must be between 0.0 and 1.0, got %f", c.Detector.MinConfidence)
	}
	if c.Detector.MinSize < 0 || c.Detector.MinSize > 1 {
		return fmt.Errorf("minSize must be between 0.0 and 1.0, got %f", c.Detector.MinSize)
	}
	if c.Detector.FrameQuality < 0 || c.Detector.FrameQuality > 100 {
		return fmt.Errorf("frameQuality must be between 0 and 100, got %d", c.Detector.FrameQuality)
	}
	if c.Detector.MaxObservations <= 0 {
		return fmt.Errorf("maxObservations must be positive, got %d", c.Detector.MaxObservations)
	}
	if c.Detector.WorkersNum <= 0 {
		c.Detector.WorkersNum = 1
	}
	if c.ReferenceWidthCm <= 0 {
		return fmt.Errorf("referenceWidthCm must be positive, got %f", c.ReferenceWidthCm)
	}
	if _, err := url.ParseRequestURI(c.Remote.Endpoint); err != nil {
		return fmt.Errorf("invalid remote endpoint %q: %w", c.Remote.Endpoint, err)
	}
	return nil
}
