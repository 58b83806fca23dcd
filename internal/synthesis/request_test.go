package synthesis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() Input {
	return Input{
		Prompt:       "hello world",
		TextTemp:     0.7,
		WaveformTemp: 0.7,
		Resolution:   "1920x1080",
		FPS:          30,
	}
}

func TestBuildRequestValid(t *testing.T) {
	req, err := BuildRequest(validInput())
	require.NoError(t, err)
	assert.Equal(t, "hello world", req.Prompt)
	assert.Equal(t, []string{"audio"}, req.Modalities, "modalities default to audio")
	assert.Nil(t, req.Video, "no video block unless render_video is set")
}

func TestBuildRequestTemperatureBounds(t *testing.T) {
	for _, temp := range []float64{0.0, 0.7, 1.5} {
		in := validInput()
		in.TextTemp = temp
		in.WaveformTemp = temp
		_, err := BuildRequest(in)
		assert.NoError(t, err, "temperature %g is inside the accepted range", temp)
	}

	for _, temp := range []float64{-0.1, 1.51, 99} {
		in := validInput()
		in.TextTemp = temp
		_, err := BuildRequest(in)
		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs, "temperature %g must be rejected", temp)
		assert.Equal(t, "text_temp", verrs[0].Field)

		in = validInput()
		in.WaveformTemp = temp
		_, err = BuildRequest(in)
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, "waveform_temp", verrs[0].Field)
	}
}

func TestBuildRequestPromptRequired(t *testing.T) {
	in := validInput()
	in.Prompt = "   \n\t "
	_, err := BuildRequest(in)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "prompt", verrs[0].Field)
}

func TestBuildRequestFPSPositive(t *testing.T) {
	for _, fps := range []int{0, -5} {
		in := validInput()
		in.FPS = fps
		_, err := BuildRequest(in)
		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, "fps", verrs[0].Field)
	}
}

func TestBuildRequestResolution(t *testing.T) {
	for _, bad := range []string{"abc", "1920", "0x1080", "1920x-1", "x", "1920xhigh"} {
		in := validInput()
		in.Resolution = bad
		_, err := BuildRequest(in)
		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs, "resolution %q must be rejected", bad)
		assert.Equal(t, "resolution", verrs[0].Field)
	}

	in := validInput()
	in.Resolution = ""
	_, err := BuildRequest(in)
	assert.NoError(t, err, "empty resolution falls back to the default preset")
}

func TestBuildRequestCollectsAllErrors(t *testing.T) {
	in := Input{Prompt: "", TextTemp: 2.0, WaveformTemp: -1, FPS: 0, Resolution: "nope"}
	_, err := BuildRequest(in)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 5)

	fields := make([]string, 0, len(verrs))
	for _, ve := range verrs {
		fields = append(fields, ve.Field)
	}
	assert.Equal(t, []string{"prompt", "text_temp", "waveform_temp", "fps", "resolution"}, fields,
		"errors keep input field order")
}

func TestBuildRequestVideoDefaults(t *testing.T) {
	in := validInput()
	in.RenderVideo = true
	in.EnableCaptions = true

	req, err := BuildRequest(in)
	require.NoError(t, err)
	require.NotNil(t, req.Video)
	assert.Equal(t, [2]int{1920, 1080}, req.Video.Resolution)
	assert.Equal(t, 30, req.Video.FPS)
	assert.Equal(t, DefaultAudioBitrate, req.Video.AudioBitrate)
	assert.Equal(t, DefaultVideoBitrate, req.Video.VideoBitrate)
	assert.Equal(t, DefaultCodec, req.Video.Codec)
	assert.Equal(t, DefaultAudioCodec, req.Video.AudioCodec)
}

func TestValidationErrorsNeverReachNetwork(t *testing.T) {
	// BuildRequest is pure; this documents that a failed validation returns
	// no request at all rather than a partial one.
	req, err := BuildRequest(Input{})
	require.Error(t, err)
	assert.True(t, errors.As(err, &ValidationErrors{}))
	assert.Equal(t, SynthesisRequest{}, req)
}
