package landmarker

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
	"github.com/Hunk0724/video2skeleton/internal/domain/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeServer struct {
	mu       sync.Mutex
	opts     sessionRequest
	bodies   [][]byte
	headers  []http.Header
	deleted  bool
	response string
	status   int
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&f.opts)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session_id":"s-1"}`))
	})
	mux.HandleFunc("POST /v1/sessions/s-1/detect", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		f.bodies = append(f.bodies, body)
		f.headers = append(f.headers, r.Header.Clone())
		if f.status != 0 {
			w.WriteHeader(f.status)
			w.Write([]byte("model crashed"))
			return
		}
		w.Write([]byte(f.response))
	})
	mux.HandleFunc("DELETE /v1/sessions/s-1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newFrame() *entity.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	copy(img.Pix, []uint8{10, 20, 30, 255, 40, 50, 60, 255})
	return &entity.Frame{Index: 7, Image: img}
}

func TestSessionDetect(t *testing.T) {
	fs := &fakeServer{response: `{
		"pose": {"landmarks": [{"x": 0.5, "y": 0.25, "z": -0.1, "visibility": 0.9}]},
		"left_hand": null,
		"right_hand": {"landmarks": [{"x": 0.1, "y": 0.2}]}
	}`}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	sess, err := c.NewSession(context.Background(), port.DetectorOptions{MinDetectionConfidence: 0.1, MinTrackingConfidence: 0.2})
	require.NoError(t, err)
	assert.Equal(t, 0.1, fs.opts.MinDetectionConfidence)
	assert.Equal(t, 0.2, fs.opts.MinTrackingConfidence)

	det, err := sess.Detect(context.Background(), newFrame())
	require.NoError(t, err)
	require.NotNil(t, det.Pose)
	assert.Equal(t, entity.SkeletonPose, det.Pose.Kind)
	assert.Equal(t, 0.25, det.Pose.Landmarks[0].Y)
	require.NotNil(t, det.Pose.Landmarks[0].Visibility)
	assert.Equal(t, 0.9, *det.Pose.Landmarks[0].Visibility)
	assert.Nil(t, det.LeftHand)
	require.NotNil(t, det.RightHand)
	assert.Equal(t, entity.SkeletonRightHand, det.RightHand.Kind)

	require.Len(t, fs.bodies, 1)
	assert.Equal(t, []byte{10, 20, 30, 40, 50, 60}, fs.bodies[0])
	assert.Equal(t, "2", fs.headers[0].Get("X-Frame-Width"))
	assert.Equal(t, "1", fs.headers[0].Get("X-Frame-Height"))
	assert.Equal(t, "7", fs.headers[0].Get("X-Frame-Index"))

	require.NoError(t, sess.Close())
	assert.True(t, fs.deleted)
	require.NoError(t, sess.Close())

	_, err = sess.Detect(context.Background(), newFrame())
	assert.Error(t, err)
}

func TestSessionDetectServerError(t *testing.T) {
	fs := &fakeServer{status: http.StatusInternalServerError}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	sess, err := c.NewSession(context.Background(), port.DetectorOptions{})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Detect(context.Background(), newFrame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestSessionDetectMalformedBody(t *testing.T) {
	fs := &fakeServer{response: `{"pose": [1, 2`}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	sess, err := c.NewSession(context.Background(), port.DetectorOptions{})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Detect(context.Background(), newFrame())
	assert.Error(t, err)
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "detector:8500"}, zap.NewNop())
	assert.Error(t, err)
}

func TestEmptyLandmarksAreAbsent(t *testing.T) {
	assert.Nil(t, toSkeleton(entity.SkeletonPose, &skeletonPayload{}))
	assert.Nil(t, toSkeleton(entity.SkeletonPose, nil))
}
