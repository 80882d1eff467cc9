package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trackprobe/internal/library"
	"trackprobe/internal/mediainfo"
	"trackprobe/internal/models"
	"trackprobe/internal/store"
)

func newProbeCommand() *cobra.Command {
	var (
		remote bool
		dbPath string
		masks  string
	)

	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Probe one file and print the merged metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				return errors.New("probe expects a file, not a directory")
			}

			if dbPath == "" {
				dbPath = store.MemoryPath
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			s := settings{logger: log.New(cmd.ErrOrStderr(), "trackprobe ", log.LstdFlags|log.Lmsgprefix)}
			if cmd.Flags().Changed("masks") {
				s.masksOverride = &masks
			}
			invoker, err := newInvoker(st, s)
			if err != nil {
				return err
			}

			track, err := st.GetTrackByPath(cmd.Context(), path)
			if errors.Is(err, store.ErrNotFound) {
				track, err = library.NewTrack(path, info)
			}
			if err != nil {
				return err
			}

			opts := s.probeOptions()
			if cmd.Flags().Changed("remote") {
				opts = mediainfo.Options{EnableRemoteContentProbe: remote}
			}
			if _, err := invoker.Probe(cmd.Context(), track, opts); err != nil {
				return err
			}
			if err := st.SaveTrack(cmd.Context(), track); err != nil {
				return err
			}

			streams, err := st.MediaStreams(cmd.Context(), track.ID)
			if err != nil {
				return err
			}
			people, err := st.People(cmd.Context(), track.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTrack(out, track, streams, people, isTerminal(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "probe the target of shortcut files")
	cmd.Flags().StringVar(&dbPath, "db", "", "persist the result in this database")
	cmd.Flags().StringVar(&masks, "masks", "", "override the external audio path masks")
	return cmd
}

func printTrack(w io.Writer, track *models.Track, streams []models.MediaStream, people []models.Person, pretty bool) {
	rows := [][]string{
		{"Path", track.Path},
		{"Name", track.Name},
		{"Album", track.Album},
		{"Artists", strings.Join(track.Artists, "; ")},
		{"Album artists", strings.Join(track.AlbumArtists, "; ")},
		{"Track", formatIntPtr(track.IndexNumber)},
		{"Disc", formatIntPtr(track.ParentIndexNumber)},
		{"Year", formatIntPtr(track.ProductionYear)},
		{"Genres", strings.Join(track.Genres, "; ")},
		{"Studios", strings.Join(track.Studios, "; ")},
		{"Container", track.Container},
		{"Duration", formatRunTime(track)},
		{"Bitrate", formatIntPtr(track.TotalBitrate)},
	}
	for _, key := range models.MusicBrainzProviders {
		if id := track.ProviderID(key); id != "" {
			rows = append(rows, []string{key, id})
		}
	}
	fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, rows, nil, pretty))

	if len(streams) > 0 {
		streamRows := make([][]string, 0, len(streams))
		for _, stream := range streams {
			streamRows = append(streamRows, []string{
				strconv.Itoa(stream.Index),
				string(stream.Type),
				stream.Codec,
				stream.Language,
				formatChannels(stream),
				formatInt(stream.SampleRate),
				strconv.FormatBool(stream.IsExternal),
				stream.Path,
			})
		}
		fmt.Fprintln(w, renderTable(
			[]string{"#", "Type", "Codec", "Language", "Channels", "Sample rate", "External", "Path"},
			streamRows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			pretty,
		))
	}

	if len(people) > 0 {
		peopleRows := make([][]string, 0, len(people))
		for _, person := range people {
			peopleRows = append(peopleRows, []string{person.Name, string(person.Type), person.Role})
		}
		fmt.Fprintln(w, renderTable([]string{"Person", "Type", "Role"}, peopleRows, nil, pretty))
	}
}

func formatIntPtr(value *int) string {
	if value == nil {
		return ""
	}
	return strconv.Itoa(*value)
}

func formatInt(value int) string {
	if value == 0 {
		return ""
	}
	return strconv.Itoa(value)
}

func formatChannels(stream models.MediaStream) string {
	if stream.ChannelLayout != "" {
		return stream.ChannelLayout
	}
	return formatInt(stream.Channels)
}

func formatRunTime(track *models.Track) string {
	if track.RunTimeTicks == nil {
		return ""
	}
	return track.RunTime().Round(time.Second).String()
}
