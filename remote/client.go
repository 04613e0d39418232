// Package remote uploads captured stills to the mailbox analysis service.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	iface "PostkasseVision/interface"
	"PostkasseVision/monitor"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	DefaultEndpoint = "http://localhost:5000/analyze"
	DefaultTimeout  = 30 * time.Second

	fieldName   = "image"
	fileName    = "upload.jpg"
	contentType = "image/jpeg"
)

type Kind int

const (
	BadURL Kind = iota + 1
	Transport
	Status
	Decode
	Encode
)

func (k Kind) String() string {
	switch k {
	case BadURL:
		return "bad_url"
	case Transport:
		return "transport"
	case Status:
		return "status"
	case Decode:
		return "decode"
	case Encode:
		return "encode"
	default:
		return "unknown"
	}
}

// UploadError is returned for every failed upload. The client never retries.
type UploadError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *UploadError) Error() string {
	switch e.Kind {
	case BadURL:
		return fmt.Sprintf("invalid analysis endpoint: %v", e.Err)
	case Transport:
		return fmt.Sprintf("analysis service unreachable: %v", e.Err)
	case Status:
		return fmt.Sprintf("analysis service returned HTTP %d: %v", e.StatusCode, e.Err)
	case Decode:
		return fmt.Sprintf("could not read analysis response: %v", e.Err)
	case Encode:
		return fmt.Sprintf("could not encode image: %v", e.Err)
	default:
		return fmt.Sprintf("upload failed: %v", e.Err)
	}
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

type Options struct {
	Endpoint    string
	Timeout     time.Duration
	JpegQuality int
}

type Client struct {
	http     *resty.Client
	endpoint string
	quality  int
	log      *zap.Logger
}

func New(opts Options, log *zap.Logger) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.JpegQuality <= 0 || opts.JpegQuality > 100 {
		opts.JpegQuality = 80
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:     resty.New().SetTimeout(opts.Timeout),
		endpoint: opts.Endpoint,
		quality:  opts.JpegQuality,
		log:      log,
	}
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// jpegBytes returns the still as JPEG, re-encoding other formats.
func (c *Client) jpegBytes(frame *iface.CapturedFrame) ([]byte, error) {
	if frame.Format == iface.FormatJPEG || frame.Format == "" {
		return frame.Data, nil
	}
	img, err := imaging.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(c.quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Analyze uploads frame as multipart field "image" and decodes the result.
func (c *Client) Analyze(ctx context.Context, frame *iface.CapturedFrame) (*iface.AnalysisResult, error) {
	res, err := c.analyze(ctx, frame)
	if err != nil {
		kind := "unknown"
		var ue *UploadError
		if errors.As(err, &ue) {
			kind = ue.Kind.String()
		}
		monitor.UploadsTotal.WithLabelValues(kind).Inc()
		c.log.Error("upload failed", zap.String("endpoint", c.endpoint), zap.Error(err))
		return nil, err
	}
	monitor.UploadsTotal.WithLabelValues("ok").Inc()
	c.log.Info("analysis received", zap.Int("count", res.Count), zap.Bool("success", res.Success))
	return res, nil
}

func (c *Client) analyze(ctx context.Context, frame *iface.CapturedFrame) (*iface.AnalysisResult, error) {
	if err := checkURL(c.endpoint); err != nil {
		return nil, &UploadError{Kind: BadURL, Err: err}
	}
	if frame == nil || len(frame.Data) == 0 {
		return nil, &UploadError{Kind: Encode, Err: errors.New("empty image")}
	}
	data, err := c.jpegBytes(frame)
	if err != nil {
		return nil, &UploadError{Kind: Encode, Err: err}
	}

	var result iface.AnalysisResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField(fieldName, fileName, contentType, bytes.NewReader(data)).
		SetResult(&result).
		ForceContentType("application/json").
		Post(c.endpoint)
	if err != nil && (resp == nil || resp.RawResponse == nil) {
		return nil, &UploadError{Kind: Transport, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &UploadError{Kind: Status, StatusCode: resp.StatusCode(), Err: fmt.Errorf("%s", bodySnippet(resp.Body()))}
	}
	// resty reports a body that does not unmarshal into result as err
	if err != nil {
		return nil, &UploadError{Kind: Decode, StatusCode: resp.StatusCode(), Err: err}
	}
	if result.Postkasser == nil {
		result.Postkasser = []iface.PostkasseResult{}
	}
	return &result, nil
}

// Health checks the service's /health route next to the analyze endpoint.
func (c *Client) Health(ctx context.Context) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return &UploadError{Kind: BadURL, Err: err}
	}
	u.Path = "/health"
	resp, err := c.http.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return &UploadError{Kind: Transport, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return &UploadError{Kind: Status, StatusCode: resp.StatusCode(), Err: fmt.Errorf("%s", bodySnippet(resp.Body()))}
	}
	return nil
}

func bodySnippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	if len(b) == 0 {
		return "empty body"
	}
	return string(b)
}
