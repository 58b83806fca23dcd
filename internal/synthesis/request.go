package synthesis

import (
	"fmt"
	"strconv"
	"strings"
)

// Default request parameters matching the service's documented defaults.
const (
	DefaultTextTemp     = 0.7
	DefaultWaveformTemp = 0.7
	DefaultResolution   = "3840x2160"
	DefaultFPS          = 30
	DefaultAudioBitrate = "320k"
	DefaultVideoBitrate = "28M"
	DefaultCodec        = "libx264"
	DefaultAudioCodec   = "aac"

	// Temperatures outside [MinTemp, MaxTemp] are rejected before submission.
	MinTemp = 0.0
	MaxTemp = 1.5
)

// Input holds the raw user-supplied fields before validation. Resolution is
// the unparsed "WIDTHxHEIGHT" form; everything else is already typed.
type Input struct {
	Prompt            string
	CaptionText       string
	Modalities        []string
	RenderVideo       bool
	DryRun            bool
	OutputPath        string
	TextTemp          float64
	WaveformTemp      float64
	Resolution        string
	FPS               int
	EnableCaptions    bool
	RealtimeLayering  bool
	AudioBitrate      string
	VideoBitrate      string
	Codec             string
	AudioCodec        string
	RoutingPriorities map[string]float64
}

// VideoParams is the wire shape of the optional video override block.
type VideoParams struct {
	Resolution       [2]int `json:"resolution"`
	FPS              int    `json:"fps"`
	EnableCaptions   bool   `json:"enable_captions"`
	RealtimeLayering bool   `json:"realtime_layering"`
	AudioBitrate     string `json:"audio_bitrate"`
	VideoBitrate     string `json:"video_bitrate"`
	Codec            string `json:"codec"`
	AudioCodec       string `json:"audio_codec"`
}

// SynthesisRequest is the validated JSON body posted to the synthesis endpoint.
type SynthesisRequest struct {
	Prompt            string             `json:"prompt"`
	CaptionText       string             `json:"caption_text,omitempty"`
	Modalities        []string           `json:"modalities"`
	RenderVideo       bool               `json:"render_video"`
	DryRun            bool               `json:"dry_run"`
	OutputPath        string             `json:"output_path,omitempty"`
	TextTemp          float64            `json:"text_temp"`
	WaveformTemp      float64            `json:"waveform_temp"`
	RoutingPriorities map[string]float64 `json:"routing_priorities,omitempty"`
	Video             *VideoParams       `json:"video,omitempty"`
}

// BuildRequest validates raw input into a normalized request. It returns
// either the request or a non-empty ValidationErrors, never both. It is pure:
// no network, no side effects.
func BuildRequest(in Input) (SynthesisRequest, error) {
	var errs ValidationErrors

	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		errs = append(errs, ValidationError{Field: "prompt", Message: "must not be empty"})
	}
	if in.TextTemp < MinTemp || in.TextTemp > MaxTemp {
		errs = append(errs, ValidationError{
			Field:   "text_temp",
			Message: fmt.Sprintf("%g is outside [%g, %g]", in.TextTemp, MinTemp, MaxTemp),
		})
	}
	if in.WaveformTemp < MinTemp || in.WaveformTemp > MaxTemp {
		errs = append(errs, ValidationError{
			Field:   "waveform_temp",
			Message: fmt.Sprintf("%g is outside [%g, %g]", in.WaveformTemp, MinTemp, MaxTemp),
		})
	}
	if in.FPS <= 0 {
		errs = append(errs, ValidationError{Field: "fps", Message: "must be greater than zero"})
	}

	resolution := in.Resolution
	if resolution == "" {
		resolution = DefaultResolution
	}
	width, height, err := parseResolution(resolution)
	if err != nil {
		errs = append(errs, ValidationError{Field: "resolution", Message: err.Error()})
	}

	if len(errs) > 0 {
		return SynthesisRequest{}, errs
	}

	modalities := in.Modalities
	if len(modalities) == 0 {
		modalities = []string{"audio"}
	}

	req := SynthesisRequest{
		Prompt:            prompt,
		CaptionText:       strings.TrimSpace(in.CaptionText),
		Modalities:        modalities,
		RenderVideo:       in.RenderVideo,
		DryRun:            in.DryRun,
		OutputPath:        in.OutputPath,
		TextTemp:          in.TextTemp,
		WaveformTemp:      in.WaveformTemp,
		RoutingPriorities: in.RoutingPriorities,
	}
	if in.RenderVideo {
		req.Video = &VideoParams{
			Resolution:       [2]int{width, height},
			FPS:              in.FPS,
			EnableCaptions:   in.EnableCaptions,
			RealtimeLayering: in.RealtimeLayering,
			AudioBitrate:     defaultString(in.AudioBitrate, DefaultAudioBitrate),
			VideoBitrate:     defaultString(in.VideoBitrate, DefaultVideoBitrate),
			Codec:            defaultString(in.Codec, DefaultCodec),
			AudioCodec:       defaultString(in.AudioCodec, DefaultAudioCodec),
		}
	}
	return req, nil
}

// parseResolution accepts the "WIDTHxHEIGHT" form, e.g. "1920x1080".
func parseResolution(s string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%q is not of the form WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("width %q is not a positive integer", parts[0])
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("height %q is not a positive integer", parts[1])
	}
	return width, height, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
