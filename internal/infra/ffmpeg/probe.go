package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
)

type Prober struct {
	bin string
}

func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{bin: ffprobePath}
}

func (p *Prober) Probe(ctx context.Context, videoPath string) (entity.VideoInfo, error) {
	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-of", "json",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return entity.VideoInfo{}, fmt.Errorf("ffprobe: %w, output: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return entity.VideoInfo{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(output)
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	NbFrames     string            `json:"nb_frames"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

func parseProbe(data []byte) (entity.VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return entity.VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info entity.VideoInfo
	var video *probeStream
	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if video == nil {
		return entity.VideoInfo{}, fmt.Errorf("no video stream")
	}
	if video.Width <= 0 || video.Height <= 0 {
		return entity.VideoInfo{}, fmt.Errorf("invalid video dimensions %dx%d", video.Width, video.Height)
	}

	info.Width, info.Height = video.Width, video.Height
	// ffmpeg applies the display matrix when decoding, so a quarter turn swaps the frame shape.
	if r := rotation(video); int(math.Abs(r))%180 == 90 {
		info.Width, info.Height = info.Height, info.Width
	}

	info.FrameRate = parseRate(video.AvgFrameRate)
	if info.FrameRate == 0 {
		info.FrameRate = parseRate(video.RFrameRate)
	}

	info.Duration = parseFloat(video.Duration)
	if info.Duration == 0 {
		info.Duration = parseFloat(out.Format.Duration)
	}

	if n, err := strconv.Atoi(video.NbFrames); err == nil && n > 0 {
		info.TotalFrames = n
	} else if info.Duration > 0 && info.FrameRate > 0 {
		info.TotalFrames = int(math.Round(info.Duration * info.FrameRate))
	}

	return info, nil
}

func rotation(s *probeStream) float64 {
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			return sd.Rotation
		}
	}
	if v, ok := s.Tags["rotate"]; ok {
		return parseFloat(v)
	}
	return 0
}

// parseRate parses "30000/1001" style rationals. Unknown rates ("0/0") are 0.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
