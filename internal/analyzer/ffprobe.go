package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/vansante/go-ffprobe.v2"

	"trackprobe/internal/models"
)

// probeFunc defines the function signature used to execute ffprobe.
type probeFunc func(ctx context.Context, path string, extraOpts ...string) (*ffprobe.ProbeData, error)

// FFProbe analyzes media by running the ffprobe binary.
type FFProbe struct {
	probe  probeFunc
	logger *log.Logger
}

// NewFFProbe creates an ffprobe analyzer. binPath overrides the ffprobe
// binary location when non-empty.
func NewFFProbe(binPath string, logger *log.Logger) *FFProbe {
	if logger == nil {
		logger = log.Default()
	}
	if binPath = strings.TrimSpace(binPath); binPath != "" {
		ffprobe.SetFFProbeBinPath(binPath)
	}
	return &FFProbe{probe: ffprobe.ProbeURL, logger: logger}
}

// GetMediaInfo probes the primary source and each playable stream file.
// Audio streams found in stream files are appended as external streams;
// stream files without an audio or container extension are skipped.
func (f *FFProbe) GetMediaInfo(ctx context.Context, req Request) (*models.ProbeResult, error) {
	data, err := f.run(ctx, req.Source.Path)
	if err != nil {
		return nil, err
	}

	result := &models.ProbeResult{
		Container: normalizeContainer(data.Format.FormatName, req.Source.Path),
	}
	if size, ok := parseInt64(data.Format.Size); ok {
		result.Size = &size
	}
	if bitrate, ok := parseInt64(data.Format.BitRate); ok && bitrate <= math.MaxInt32 {
		value := int(bitrate)
		result.Bitrate = &value
	}
	if data.Format.DurationSeconds > 0 {
		ticks := int64(math.Round(data.Format.DurationSeconds * models.TicksPerSecond))
		result.RunTimeTicks = &ticks
	}

	tags := tagStrings(data.Format.TagList)
	for _, stream := range data.Streams {
		if stream == nil {
			continue
		}
		if stream.CodecType == string(ffprobe.StreamAudio) {
			// Ogg and FLAC keep their comments on the audio stream.
			for key, value := range tagStrings(stream.TagList) {
				if _, ok := tags[key]; !ok {
					tags[key] = value
				}
			}
		}
		result.MediaStreams = append(result.MediaStreams, convertStream(stream))
	}
	applyTags(result, tags)

	for _, file := range playableFiles(req.PlayableStreamFileNames, f.logger) {
		extra, err := f.run(ctx, file)
		if err != nil {
			return nil, err
		}
		for _, stream := range extra.Streams {
			if stream == nil || stream.CodecType != string(ffprobe.StreamAudio) {
				continue
			}
			converted := convertStream(stream)
			converted.Index = len(result.MediaStreams)
			converted.IsExternal = true
			converted.Path = file
			result.MediaStreams = append(result.MediaStreams, converted)
		}
	}

	return result, nil
}

func (f *FFProbe) run(ctx context.Context, path string) (*ffprobe.ProbeData, error) {
	data, err := f.probe(ctx, path)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, failure(path, err)
	}
	if data == nil || data.Format == nil {
		return nil, failure(path, errors.New("ffprobe returned no format section"))
	}
	return data, nil
}

func convertStream(s *ffprobe.Stream) models.MediaStream {
	stream := models.MediaStream{
		Index:         s.Index,
		Type:          streamType(s.CodecType),
		Codec:         s.CodecName,
		Channels:      s.Channels,
		ChannelLayout: s.ChannelLayout,
		IsDefault:     s.Disposition.Default == 1,
	}
	if rate, ok := parseInt64(s.SampleRate); ok {
		stream.SampleRate = int(rate)
	}
	if bitrate, ok := parseInt64(s.BitRate); ok {
		stream.BitRate = bitrate
	}
	tags := newTagSet(tagStrings(s.TagList))
	stream.Language = tags.get("language")
	stream.Title = tags.get("title")
	if stream.Type == models.StreamVideo && s.Disposition.AttachedPic == 1 {
		stream.Type = models.StreamEmbedded
	}
	return stream
}

func streamType(codecType string) models.StreamType {
	switch codecType {
	case string(ffprobe.StreamAudio):
		return models.StreamAudio
	case string(ffprobe.StreamVideo):
		return models.StreamVideo
	case "subtitle":
		return models.StreamSubtitle
	case "attachment":
		return models.StreamAttachment
	default:
		return models.StreamData
	}
}

// normalizeContainer picks one name out of ffprobe's comma-separated format
// list, preferring the one that matches the file extension.
func normalizeContainer(formatName, path string) string {
	names := strings.Split(formatName, ",")
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, name := range names {
		if ext != "" && strings.EqualFold(strings.TrimSpace(name), ext) {
			return ext
		}
	}
	return strings.TrimSpace(names[0])
}

func tagStrings(tags ffprobe.Tags) map[string]string {
	out := make(map[string]string, len(tags))
	for key, value := range tags {
		switch v := value.(type) {
		case string:
			out[key] = v
		case nil:
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return out
}

// ffprobe reports numbers as strings.
func parseInt64(value string) (int64, bool) {
	value = strings.TrimSpace(value)
	if value == "" || value == "N/A" {
		return 0, false
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
