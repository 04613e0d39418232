// Package proto serves the rectangle detector over gRPC so the live
// pipeline can run its detector on another host.
package proto

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"PostkasseVision/engine"
	iface "PostkasseVision/interface"
	"PostkasseVision/monitor"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

const (
	serviceName       = "postkasse.DetectService"
	detectMethod      = "/" + serviceName + "/Detect"
	checkEngineMethod = "/" + serviceName + "/CheckEngine"
)

// DetectRequest carries one frame. Raw frames set Width, Height and
// Channels; Encoded frames carry JPEG or PNG bytes instead.
type DetectRequest struct {
	Width    int32  `json:"width,omitempty"`
	Height   int32  `json:"height,omitempty"`
	Channels int32  `json:"channels,omitempty"`
	Encoded  bool   `json:"encoded,omitempty"`
	Data     []byte `json:"data"`
}

type DetectResponse struct {
	Detections []iface.Detection `json:"detections"`
}

type EngineInfo struct {
	Workers         int     `json:"workers"`
	State           string  `json:"state"`
	MinConfidence   float64 `json:"minConfidence"`
	MinSize         float64 `json:"minSize"`
	MaxObservations int     `json:"maxObservations"`
	Served          uint64  `json:"served"`
}

type DetectServiceServer interface {
	Detect(context.Context, *DetectRequest) (*DetectResponse, error)
	CheckEngine(context.Context, *emptypb.Empty) (*EngineInfo, error)
}

func _DetectService_Detect_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DetectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectServiceServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: detectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectServiceServer).Detect(ctx, req.(*DetectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _DetectService_CheckEngine_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectServiceServer).CheckEngine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkEngineMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectServiceServer).CheckEngine(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var DetectService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DetectServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: _DetectService_Detect_Handler},
		{MethodName: "CheckEngine", Handler: _DetectService_CheckEngine_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "postkasse/detect.proto",
}

func RegisterDetectServiceServer(s grpc.ServiceRegistrar, srv DetectServiceServer) {
	s.RegisterService(&DetectService_ServiceDesc, srv)
}

type JobPackage struct {
	ctx    context.Context
	frame  *iface.Frame
	Result chan jobResult
}

type jobResult struct {
	detections []iface.Detection
	err        error
}

// Server runs one engine detector per worker. Requests wait on JobQueue
// until a worker is free.
type Server struct {
	JobQueue  chan JobPackage
	detectors []*engine.Detector
	cfg       engine.Config
	served    atomic.Uint64
	closeOnce sync.Once
	log       *zap.Logger
}

func NewServer(cfg engine.Config, workersNum int, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if workersNum <= 0 {
		workersNum = 1
	}
	s := &Server{
		JobQueue: make(chan JobPackage, workersNum),
		cfg:      cfg,
		log:      log,
	}
	for i := 0; i < workersNum; i++ {
		d := engine.New(log.Named(fmt.Sprintf("worker-%d", i)))
		if err := d.Configure(cfg); err != nil {
			return nil, err
		}
		s.detectors = append(s.detectors, d)
	}
	return s, nil
}

func (s *Server) StartWorker() {
	for i := range s.detectors {
		go s.runWorker(i)
	}
}

func (s *Server) runWorker(workerID int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("worker panic, restarting in 1s", zap.Int("worker", workerID), zap.Any("panic", r))
			time.Sleep(1 * time.Second)
			go s.runWorker(workerID)
		}
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	s.log.Info("worker created", zap.Int("worker", workerID))

	d := s.detectors[workerID]
	for job := range s.JobQueue {
		s.serve(workerID, d, job)
	}
}

// serve answers job exactly once, also when the detector panics.
func (s *Server) serve(workerID int, d iface.Detector, job JobPackage) {
	var res jobResult
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("worker panic", zap.Int("worker", workerID), zap.Any("panic", r))
			res = jobResult{err: fmt.Errorf("worker panic: %v", r)}
		}
		job.Result <- res
	}()
	res.detections, res.err = d.Detect(job.ctx, job.frame)
}

// Stop closes the queue; workers exit once it drains.
func (s *Server) Stop() {
	s.closeOnce.Do(func() { close(s.JobQueue) })
}

func requestFrame(req *DetectRequest) (*iface.Frame, error) {
	if len(req.Data) == 0 {
		return nil, errors.New("empty frame data")
	}
	if !req.Encoded {
		return &iface.Frame{
			Width:    int(req.Width),
			Height:   int(req.Height),
			Channels: int(req.Channels),
			Data:     req.Data,
		}, nil
	}
	mat, err := gocv.IMDecode(req.Data, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, engine.ErrEmptyImage
	}
	return engine.MatToFrame(mat), nil
}

func (s *Server) Detect(ctx context.Context, req *DetectRequest) (*DetectResponse, error) {
	monitor.GRPCTotal.Inc()
	frame, err := requestFrame(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad frame: %v", err)
	}
	job := JobPackage{ctx: ctx, frame: frame, Result: make(chan jobResult, 1)}
	select {
	case s.JobQueue <- job:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	var res jobResult
	select {
	case res = <-job.Result:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	s.served.Add(1)
	if res.err != nil {
		if errors.Is(res.err, engine.ErrBadFrame) {
			return nil, status.Error(codes.InvalidArgument, res.err.Error())
		}
		return nil, status.Error(codes.Internal, res.err.Error())
	}
	if res.detections == nil {
		res.detections = []iface.Detection{}
	}
	return &DetectResponse{Detections: res.detections}, nil
}

func (s *Server) CheckEngine(ctx context.Context, _ *emptypb.Empty) (*EngineInfo, error) {
	monitor.GRPCTotal.Inc()
	state := engine.IDLE
	for _, d := range s.detectors {
		if st := d.Status(); st != engine.IDLE {
			state = st
			if st == engine.BUSY {
				break
			}
		}
	}
	return &EngineInfo{
		Workers:         len(s.detectors),
		State:           engine.StateName(state),
		MinConfidence:   s.cfg.MinConfidence,
		MinSize:         s.cfg.MinSize,
		MaxObservations: s.cfg.MaxObservations,
		Served:          s.served.Load(),
	}, nil
}

// StartGRPCServer serves srv on lis in the background.
func StartGRPCServer(lis net.Listener, srv *Server, log *zap.Logger) *grpc.Server {
	s := grpc.NewServer()
	RegisterDetectServiceServer(s, srv)
	go func() {
		log.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc server stopped", zap.Error(err))
		}
	}()
	return s
}

// Listen opens a TCP listener on port for StartGRPCServer.
func Listen(port int) (net.Listener, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return lis, nil
}
