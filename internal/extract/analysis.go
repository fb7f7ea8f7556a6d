package extract

import (
	"fmt"
	"math"
	"sort"

	"github.com/dustin/go-humanize"
)

const unknownSize = "Unknown"

// FormatOption is a format as presented to a client choosing a quality.
type FormatOption struct {
	FormatID   string  `json:"format_id"`
	Resolution string  `json:"resolution"`
	Container  string  `json:"ext"`
	FPS        float64 `json:"fps,omitempty"`
	AudioKbps  float64 `json:"abr,omitempty"`
	Size       string  `json:"filesize"`
	height     int
}

// MergePair is a ready-made video-only + audio-only combination.
type MergePair struct {
	VideoFormatID string `json:"video_format_id"`
	AudioFormatID string `json:"audio_format_id"`
	Resolution    string `json:"resolution"`
	Container     string `json:"ext"`
	Size          string `json:"filesize"`
}

// Analysis groups the formats of one video for display.
type Analysis struct {
	VideoID    string         `json:"video_id"`
	Title      string         `json:"title"`
	Author     string         `json:"author"`
	Length     string         `json:"length"`
	Thumbnail  string         `json:"thumbnail,omitempty"`
	VideoAudio []FormatOption `json:"video_audio"`
	VideoOnly  []FormatOption `json:"video_only"`
	AudioOnly  []FormatOption `json:"audio_only"`
	AutoMerge  []MergePair    `json:"auto_merge"`
}

// Analyze sorts formats into progressive, video-only and audio-only groups and
// pairs the best audio stream with one video stream per distinct resolution.
// container is the extension merged pairs will be written as.
func Analyze(info *Info, container string) Analysis {
	a := Analysis{
		VideoID:    info.ID,
		Title:      info.Title,
		Author:     info.Uploader,
		Length:     FormatLength(info.Duration),
		Thumbnail:  info.Thumbnail,
		VideoAudio: []FormatOption{},
		VideoOnly:  []FormatOption{},
		AudioOnly:  []FormatOption{},
		AutoMerge:  []MergePair{},
	}

	var bestAudio *Format
	videoOnly := make([]Format, 0)
	for i := range info.Formats {
		f := info.Formats[i]
		if f.Container == "mhtml" {
			continue
		}
		switch {
		case f.HasVideo && f.HasAudio:
			a.VideoAudio = append(a.VideoAudio, option(f))
		case f.HasVideo:
			a.VideoOnly = append(a.VideoOnly, option(f))
			videoOnly = append(videoOnly, f)
		case f.HasAudio:
			a.AudioOnly = append(a.AudioOnly, option(f))
			if bestAudio == nil || f.AudioKbps > bestAudio.AudioKbps {
				bestAudio = &info.Formats[i]
			}
		}
	}

	byHeight := func(opts []FormatOption) {
		sort.SliceStable(opts, func(i, j int) bool { return opts[i].height > opts[j].height })
	}
	byHeight(a.VideoAudio)
	byHeight(a.VideoOnly)
	sort.SliceStable(a.AudioOnly, func(i, j int) bool { return a.AudioOnly[i].AudioKbps > a.AudioOnly[j].AudioKbps })

	if bestAudio != nil {
		sort.SliceStable(videoOnly, func(i, j int) bool { return videoOnly[i].Height > videoOnly[j].Height })
		seen := make(map[string]bool)
		for _, v := range videoOnly {
			if seen[v.Resolution] {
				continue
			}
			seen[v.Resolution] = true
			var size int64
			if v.ApproxSize > 0 && bestAudio.ApproxSize > 0 {
				size = v.ApproxSize + bestAudio.ApproxSize
			}
			a.AutoMerge = append(a.AutoMerge, MergePair{
				VideoFormatID: v.ID,
				AudioFormatID: bestAudio.ID,
				Resolution:    v.Resolution,
				Container:     container,
				Size:          FormatSize(size),
			})
		}
	}
	return a
}

func option(f Format) FormatOption {
	return FormatOption{
		FormatID:   f.ID,
		Resolution: f.Resolution,
		Container:  f.Container,
		FPS:        f.FPS,
		AudioKbps:  f.AudioKbps,
		Size:       FormatSize(f.ApproxSize),
		height:     f.Height,
	}
}

// FormatSize renders a byte count in binary units, or "Unknown" for zero.
func FormatSize(n int64) string {
	if n <= 0 {
		return unknownSize
	}
	return humanize.IBytes(uint64(n))
}

// FormatLength renders seconds as m:ss.
func FormatLength(seconds float64) string {
	if seconds <= 0 {
		return "0:00"
	}
	total := int(math.Round(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
