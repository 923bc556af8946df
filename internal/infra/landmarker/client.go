// Package landmarker talks to a holistic landmark model served over HTTP.
//
// The model server keeps one tracking session per run so its temporal
// smoothing sees frames in order:
//
//	POST   /v1/sessions                 -> {"session_id": "..."}
//	POST   /v1/sessions/{id}/detect     raw RGB24 body -> detections
//	DELETE /v1/sessions/{id}
package landmarker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
	"github.com/Hunk0724/video2skeleton/internal/domain/port"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
}

func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse detector url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("detector url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}, nil
}

type sessionRequest struct {
	MinDetectionConfidence float64 `json:"min_detection_confidence"`
	MinTrackingConfidence  float64 `json:"min_tracking_confidence"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

func (c *Client) NewSession(ctx context.Context, opts port.DetectorOptions) (port.LandmarkDetector, error) {
	body, err := json.Marshal(sessionRequest{
		MinDetectionConfidence: opts.MinDetectionConfidence,
		MinTrackingConfidence:  opts.MinTrackingConfidence,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("v1", "sessions"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out sessionResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("open detector session: %w", err)
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("open detector session: empty session id")
	}

	c.logger.Debug("detector session opened", zap.String("session_id", out.SessionID))
	return &Session{client: c, id: out.SessionID}, nil
}

// Session is one tracking session on the model server.
type Session struct {
	client *Client
	id     string
	closed bool
}

type skeletonPayload struct {
	Landmarks []entity.Landmark `json:"landmarks"`
}

type detectResponse struct {
	Pose      *skeletonPayload `json:"pose"`
	LeftHand  *skeletonPayload `json:"left_hand"`
	RightHand *skeletonPayload `json:"right_hand"`
}

func (s *Session) Detect(ctx context.Context, frame *entity.Frame) (entity.Detections, error) {
	if s.closed {
		return entity.Detections{}, fmt.Errorf("detector session %s closed", s.id)
	}

	b := frame.Bounds()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.client.endpoint("v1", "sessions", s.id, "detect"), bytes.NewReader(packRGB(frame)))
	if err != nil {
		return entity.Detections{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Frame-Width", strconv.Itoa(b.Dx()))
	req.Header.Set("X-Frame-Height", strconv.Itoa(b.Dy()))
	req.Header.Set("X-Frame-Index", strconv.Itoa(frame.Index))

	var out detectResponse
	if err := s.client.do(req, &out); err != nil {
		return entity.Detections{}, fmt.Errorf("detect frame %d: %w", frame.Index, err)
	}

	return entity.Detections{
		Pose:      toSkeleton(entity.SkeletonPose, out.Pose),
		LeftHand:  toSkeleton(entity.SkeletonLeftHand, out.LeftHand),
		RightHand: toSkeleton(entity.SkeletonRightHand, out.RightHand),
	}, nil
}

// Close releases the server-side session. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.client.endpoint("v1", "sessions", s.id), nil)
	if err != nil {
		return err
	}
	if err := s.client.do(req, nil); err != nil {
		return fmt.Errorf("close detector session %s: %w", s.id, err)
	}
	return nil
}

func toSkeleton(kind entity.SkeletonKind, p *skeletonPayload) *entity.Skeleton {
	if p == nil || len(p.Landmarks) == 0 {
		return nil
	}
	return &entity.Skeleton{Kind: kind, Landmarks: p.Landmarks}
}

// packRGB drops the alpha channel.
func packRGB(frame *entity.Frame) []byte {
	pix := frame.Image.Pix
	b := frame.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := pix[frame.Image.PixOffset(b.Min.X, y):frame.Image.PixOffset(b.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			out = append(out, row[i], row[i+1], row[i+2])
		}
	}
	return out
}

func (c *Client) endpoint(parts ...string) string {
	return c.base.JoinPath(parts...).String()
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
