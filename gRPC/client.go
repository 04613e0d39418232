package proto

import (
	"context"
	"fmt"

	"PostkasseVision/camera"
	"PostkasseVision/engine"
	iface "PostkasseVision/interface"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
)

// RemoteDetector runs detection on a DetectService and satisfies the
// pipeline's detector interface.
type RemoteDetector struct {
	conn    *grpc.ClientConn
	quality int
}

// Dial creates a client for addr ("host:port"). The connection is made
// lazily on the first call.
func Dial(addr string, opts ...grpc.DialOption) (*RemoteDetector, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial detector %s: %w", addr, err)
	}
	return &RemoteDetector{conn: conn}, nil
}

// SetFrameQuality makes Detect send JPEG frames at quality q. Zero sends
// raw pixels.
func (r *RemoteDetector) SetFrameQuality(q int) {
	r.quality = q
}

func (r *RemoteDetector) Detect(ctx context.Context, frame *iface.Frame) ([]iface.Detection, error) {
	if r.quality > 0 {
		return r.detectJPEG(ctx, frame)
	}
	req := &DetectRequest{
		Width:    int32(frame.Width),
		Height:   int32(frame.Height),
		Channels: int32(frame.Channels),
		Data:     frame.Data,
	}
	var resp DetectResponse
	if err := r.conn.Invoke(ctx, detectMethod, req, &resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp.Detections, nil
}

func (r *RemoteDetector) detectJPEG(ctx context.Context, frame *iface.Frame) ([]iface.Detection, error) {
	img, err := engine.FrameToMat(frame)
	defer img.Close()
	if err != nil {
		return nil, err
	}
	data, err := camera.EncodeJPEG(img, r.quality)
	if err != nil {
		return nil, err
	}
	return r.DetectEncoded(ctx, data)
}

// DetectEncoded sends a JPEG or PNG image instead of a raw frame.
func (r *RemoteDetector) DetectEncoded(ctx context.Context, data []byte) ([]iface.Detection, error) {
	var resp DetectResponse
	req := &DetectRequest{Encoded: true, Data: data}
	if err := r.conn.Invoke(ctx, detectMethod, req, &resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp.Detections, nil
}

func (r *RemoteDetector) CheckEngine(ctx context.Context) (*EngineInfo, error) {
	var info EngineInfo
	if err := r.conn.Invoke(ctx, checkEngineMethod, &emptypb.Empty{}, &info, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *RemoteDetector) Close() error {
	return r.conn.Close()
}
