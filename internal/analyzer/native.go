package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"

	"trackprobe/internal/models"
)

// Native analyzes local files in-process: tags through dhowden/tag and MP3
// duration by decoding frame headers. It needs no external binary but only
// handles the File protocol.
type Native struct {
	logger *log.Logger
}

// NewNative creates the in-process analyzer.
func NewNative(logger *log.Logger) *Native {
	if logger == nil {
		logger = log.Default()
	}
	return &Native{logger: logger}
}

// GetMediaInfo reads size, tags and (for MP3) duration of the primary file.
// Each playable stream file is reported as an external audio stream.
func (n *Native) GetMediaInfo(ctx context.Context, req Request) (*models.ProbeResult, error) {
	path := req.Source.Path
	if req.Source.Protocol != "" && req.Source.Protocol != models.ProtocolFile {
		return nil, failure(path, fmt.Errorf("protocol %s is not supported by the native analyzer", req.Source.Protocol))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, failure(path, err)
	}
	if info.IsDir() {
		return nil, failure(path, errors.New("path is a directory"))
	}

	size := info.Size()
	raw, fileType := readTags(path)

	result := &models.ProbeResult{
		Container: containerFor(path, fileType),
		Size:      &size,
	}

	stream := models.MediaStream{
		Index:     0,
		Type:      models.StreamAudio,
		Codec:     result.Container,
		IsDefault: true,
	}

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		dur, err := computeMP3Duration(ctx, path)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil && dur > 0 {
			ticks := int64(math.Round(dur * models.TicksPerSecond))
			result.RunTimeTicks = &ticks

			bitrate := int(math.Round(float64(size) * 8 / dur))
			if bitrate > 0 {
				result.Bitrate = &bitrate
				stream.BitRate = int64(bitrate)
			}
		}
	}

	applyTags(result, raw)
	result.MediaStreams = append(result.MediaStreams, stream)

	for _, file := range playableFiles(req.PlayableStreamFileNames, n.logger) {
		if _, err := os.Stat(file); err != nil {
			return nil, failure(file, err)
		}
		result.MediaStreams = append(result.MediaStreams, models.MediaStream{
			Index:      len(result.MediaStreams),
			Type:       models.StreamAudio,
			Codec:      containerFor(file, ""),
			IsExternal: true,
			Path:       file,
		})
	}

	return result, nil
}

func containerFor(path string, fileType tag.FileType) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext != "" {
		return ext
	}
	return strings.ToLower(string(fileType))
}

// readTags flattens the file's tag block into name/value pairs. Unreadable
// or untagged files yield an empty bundle.
func readTags(path string) (map[string]string, tag.FileType) {
	raw := make(map[string]string)

	f, err := os.Open(path)
	if err != nil {
		return raw, ""
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return raw, ""
	}

	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			raw[key] = value
		}
	}

	set("title", meta.Title())
	set("album", meta.Album())
	set("artist", meta.Artist())
	set("album_artist", meta.AlbumArtist())
	set("composer", meta.Composer())
	set("genre", meta.Genre())
	if year := meta.Year(); year > 0 {
		set("year", strconv.Itoa(year))
	}
	if track, _ := meta.Track(); track > 0 {
		set("track", strconv.Itoa(track))
	}
	if disc, _ := meta.Disc(); disc > 0 {
		set("disc", strconv.Itoa(disc))
	}

	for key, value := range meta.Raw() {
		switch v := value.(type) {
		case string:
			if _, ok := raw[key]; !ok {
				set(key, v)
			}
		case *tag.Comm:
			// ID3 TXXX frames carry the tag name in the description.
			if v != nil && v.Description != "" {
				set(v.Description, v.Text)
			}
		}
	}

	return raw, meta.FileType()
}

func computeMP3Duration(ctx context.Context, path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total float64

	for frames := 0; ; frames++ {
		if frames%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration().Seconds()
	}

	return total, nil
}
