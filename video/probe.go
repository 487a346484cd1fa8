package video

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vidforge/composer-api/log"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// Codecs ffprobe reports for still images that sneak in where a video is
// expected.
var stillImageCodecList = []string{"mjpeg", "jpeg", "png", "webp", "bmp"}

type Prober interface {
	ProbeFile(requestID, url string, ffProbeOptions ...string) (InputVideo, error)
	ProbeImage(requestID, url string) (ImageInfo, error)
	ProbeAudio(requestID, url string) (AudioInfo, error)
}

type Probe struct {
	IgnoreErrMessages []string
}

func (p Probe) ProbeFile(requestID string, url string, ffProbeOptions ...string) (InputVideo, error) {
	data, err := p.probeWithRetries(requestID, url, ffProbeOptions...)
	if err != nil {
		return InputVideo{}, err
	}
	return parseProbeOutput(data)
}

func (p Probe) ProbeImage(requestID string, url string) (ImageInfo, error) {
	data, err := p.probeWithRetries(requestID, url)
	if err != nil {
		return ImageInfo{}, err
	}
	return parseImageProbeOutput(data)
}

func (p Probe) ProbeAudio(requestID string, url string) (AudioInfo, error) {
	data, err := p.probeWithRetries(requestID, url)
	if err != nil {
		return AudioInfo{}, err
	}
	return parseAudioProbeOutput(data)
}

func (p Probe) probeWithRetries(requestID, url string, ffProbeOptions ...string) (*ffprobe.ProbeData, error) {
	data, err := p.runProbe(url, ffProbeOptions...)
	if err == nil {
		return data, nil
	}

	// ignore these probing errors if found and re-run with fatal loglevel to obtain the probe data
	errMsg := strings.ToLower(err.Error())
	for _, ignoreMsg := range p.IgnoreErrMessages {
		if strings.Contains(errMsg, ignoreMsg) {
			log.Log(requestID, "ignoring probe error", "err", err)
			return p.runProbe(url, "-loglevel", "fatal")
		}
	}
	return nil, err
}

func (p Probe) runProbe(url string, ffProbeOptions ...string) (data *ffprobe.ProbeData, err error) {
	if len(ffProbeOptions) == 0 {
		ffProbeOptions = []string{"-loglevel", "error"}
	}
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer probeCancel()
		data, err = ffprobe.ProbeURL(probeCtx, url, ffProbeOptions...)
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // don't impose a timeout as part of the retries
	err = backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3))
	if err != nil {
		return nil, fmt.Errorf("error probing: %w", err)
	}
	return data, nil
}

func parseProbeOutput(probeData *ffprobe.ProbeData) (InputVideo, error) {
	// check for a valid video stream
	videoStream := probeData.FirstVideoStream()
	if videoStream == nil {
		return InputVideo{}, errors.New("error checking for video: no video stream found")
	}
	// a still image where a video belongs is a content error, not a probe error
	for _, codec := range stillImageCodecList {
		if strings.ToLower(videoStream.CodecName) == codec {
			return InputVideo{}, fmt.Errorf("error checking for video: %s is a still image codec", videoStream.CodecName)
		}
	}
	// We rely on this being present to get required information about the input video, so error out if it isn't
	if probeData.Format == nil {
		return InputVideo{}, fmt.Errorf("error parsing input video: format information missing")
	}
	// parse bitrate
	bitRateValue := videoStream.BitRate
	if bitRateValue == "" {
		bitRateValue = probeData.Format.BitRate
	}
	var (
		bitrate int64
		err     error
	)
	if bitRateValue == "" {
		bitrate = FallbackBitrate
	} else {
		bitrate, err = strconv.ParseInt(bitRateValue, 10, 64)
		if err != nil {
			return InputVideo{}, fmt.Errorf("error parsing bitrate from probed data: %w", err)
		}
	}
	// parse filesize
	var size int64
	if probeData.Format.Size != "" {
		size, err = strconv.ParseInt(probeData.Format.Size, 10, 64)
		if err != nil {
			return InputVideo{}, fmt.Errorf("error parsing filesize from probed data: %w", err)
		}
	}
	// parse fps
	fps, err := parseFps(videoStream.AvgFrameRate)
	if err != nil {
		return InputVideo{}, fmt.Errorf("error parsing avg fps numerator from probed data: %w", err)
	}
	// if fps is 0, try parsing the RFrameRate in the probed data
	if fps == 0 {
		fps, err = parseFps(videoStream.RFrameRate)
		if err != nil {
			return InputVideo{}, fmt.Errorf("error parsing real fps numerator from probed data: %w", err)
		}
	}

	duration, err := strconv.ParseFloat(videoStream.Duration, 64)
	if err != nil {
		duration = probeData.Format.DurationSeconds
	}

	var rotation int64
	displaySideData, err := videoStream.SideDataList.GetSideData("Display Matrix")
	if err == nil {
		r, err := displaySideData.GetInt("rotation")
		if err == nil {
			rotation = r
		}
	}

	// format file stats into InputVideo
	iv := InputVideo{
		Format: probeData.Format.FormatName,
		Tracks: []InputTrack{
			{
				Type:    TrackTypeVideo,
				Codec:   videoStream.CodecName,
				Bitrate: bitrate,
				VideoTrack: VideoTrack{
					Width:              int64(videoStream.Width),
					Height:             int64(videoStream.Height),
					FPS:                fps,
					Rotation:           rotation,
					DisplayAspectRatio: videoStream.DisplayAspectRatio,
					PixelFormat:        videoStream.PixFmt,
				},
			},
		},
		Duration:  duration,
		SizeBytes: size,
	}
	iv, err = addAudioTrack(probeData, iv)
	if err != nil {
		return InputVideo{}, err
	}

	return iv, nil
}

func parseImageProbeOutput(probeData *ffprobe.ProbeData) (ImageInfo, error) {
	imageStream := probeData.FirstVideoStream()
	if imageStream == nil {
		return ImageInfo{}, errors.New("error checking image: no image stream found")
	}
	if imageStream.Width <= 0 || imageStream.Height <= 0 {
		return ImageInfo{}, fmt.Errorf("error checking image: invalid dimensions %dx%d", imageStream.Width, imageStream.Height)
	}
	return ImageInfo{
		Width:  int64(imageStream.Width),
		Height: int64(imageStream.Height),
		Codec:  imageStream.CodecName,
	}, nil
}

func parseAudioProbeOutput(probeData *ffprobe.ProbeData) (AudioInfo, error) {
	audioStream := probeData.FirstAudioStream()
	if audioStream == nil {
		return AudioInfo{}, errors.New("error checking audio: no audio stream found")
	}

	duration, err := strconv.ParseFloat(audioStream.Duration, 64)
	if err != nil && probeData.Format != nil {
		duration = probeData.Format.DurationSeconds
	}
	if duration <= 0 {
		return AudioInfo{}, errors.New("error checking audio: could not determine duration")
	}

	var sampleRate int
	if audioStream.SampleRate != "" {
		sampleRate, err = strconv.Atoi(audioStream.SampleRate)
		if err != nil {
			return AudioInfo{}, fmt.Errorf("error parsing sample rate from track %d: %w", audioStream.Index, err)
		}
	}

	return AudioInfo{
		Duration:   duration,
		Codec:      audioStream.CodecName,
		SampleRate: sampleRate,
		Channels:   audioStream.Channels,
	}, nil
}

func addAudioTrack(probeData *ffprobe.ProbeData, iv InputVideo) (InputVideo, error) {
	audioTrack := probeData.FirstAudioStream()
	if audioTrack == nil {
		return iv, nil
	}

	sampleRate, err := strconv.Atoi(audioTrack.SampleRate)
	if audioTrack.SampleRate != "" && err != nil {
		return iv, fmt.Errorf("error parsing sample rate from track %d: %w", audioTrack.Index, err)
	}
	bitDepth, err := strconv.Atoi(audioTrack.BitsPerRawSample)
	if audioTrack.BitsPerRawSample != "" && err != nil {
		return iv, fmt.Errorf("error parsing bit depth (bits_per_raw_sample) from track %d: %w", audioTrack.Index, err)
	}

	bitrate, _ := strconv.ParseInt(audioTrack.BitRate, 10, 64)
	iv.Tracks = append(iv.Tracks, InputTrack{
		Type:    TrackTypeAudio,
		Codec:   audioTrack.CodecName,
		Bitrate: bitrate,
		AudioTrack: AudioTrack{
			Channels:   audioTrack.Channels,
			SampleBits: audioTrack.BitsPerSample,
			SampleRate: sampleRate,
			BitDepth:   bitDepth,
		},
	})

	return iv, nil
}

func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.SplitN(framerate, "/", 2)
	if len(parts) < 2 {
		fps, err := strconv.ParseFloat(framerate, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing framerate: %w", err)
		}
		return fps, nil
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate numerator: %w", err)
	}
	den, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate denominator: %w", err)
	}

	if den == 0 {
		// 0/0 can be valid for a still image stream
		if num == 0 {
			return 0, nil
		}

		// If only denominator is 0 then the framerate is invalid
		return 0, errors.New("invalid framerate denominator 0")
	}

	return float64(num) / float64(den), nil
}
