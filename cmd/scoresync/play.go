package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	scoresync "github.com/cbegin/scoresync-go"
	"github.com/cbegin/scoresync-go/internal/audio"
)

var (
	playTempo      float64
	playMetronome  bool
	playInstrument int
	playMIDI       string
	playFrom       float64
)

func init() {
	playCmd.Flags().Float64Var(&playTempo, "tempo", 0, "playback tempo in BPM (0 keeps the score's)")
	playCmd.Flags().BoolVar(&playMetronome, "metronome", false, "click on every beat")
	playCmd.Flags().IntVar(&playInstrument, "instrument", -1, "General MIDI program for the first track")
	playCmd.Flags().StringVar(&playMIDI, "midi", "", "derived MIDI file or URL for the notation backend")
	playCmd.Flags().Float64Var(&playFrom, "from", 0, "start position in seconds")
	rootCmd.AddCommand(playCmd)
}

var playCmd = &cobra.Command{
	Use:   "play <score>",
	Short: "Play a score and follow the current measure",
	Long: `Plays a MusicXML or .mxl score from a path or URL. A bare number is taken
as a file id on the practice API.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		s := newSession(scoresync.WithOutput(audio.NewPlayer))
		defer s.Close()
		return play(ctx, s, args[0])
	},
}

func newSession(opts ...scoresync.Option) *scoresync.Session {
	base := []scoresync.Option{scoresync.WithConfig(cfg), scoresync.WithLogger(log)}
	return scoresync.New(append(base, opts...)...)
}

// loadSource loads src as a piece id when it is a bare number and as a path
// or URL otherwise.
func loadSource(ctx context.Context, s *scoresync.Session, src, midi string) error {
	if id, err := strconv.Atoi(strings.TrimSpace(src)); err == nil {
		var midiID *int
		if m, err := strconv.Atoi(strings.TrimSpace(midi)); err == nil {
			midiID = &m
		}
		return s.LoadPiece(ctx, id, midiID)
	}
	var opts []scoresync.LoadOption
	if midi != "" {
		opts = append(opts, scoresync.WithMIDIURL(midi))
	}
	return s.LoadScore(ctx, src, opts...)
}

func play(ctx context.Context, s *scoresync.Session, src string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := s.Watch()
	go func() { _ = s.Run(ctx) }()

	if err := loadSource(ctx, s, src, playMIDI); err != nil {
		return err
	}
	if sc := s.Score(); sc != nil {
		fmt.Printf("%s (%d measures, %.0f BPM)\n", sc.Title, len(sc.MasterBars), sc.OriginalTempo())
	}
	if playTempo > 0 {
		s.SetTempo(playTempo)
	}
	s.ToggleMetronome(playMetronome)
	if playFrom > 0 {
		s.Seek(playFrom)
	}
	// an instrument change regenerates the audio, which needs a ready player
	regen := playInstrument >= 0
	if !regen {
		s.Play()
	}

	started := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev.Kind {
			case scoresync.EventAssetProgress:
				log.WithField("percent", ev.Percent).Debug("loading instrument")
			case scoresync.EventPlayerReady:
				fmt.Println("player ready")
				if regen {
					s.SetInstrument(playInstrument)
				}
			case scoresync.EventAssetRegenerated:
				if regen {
					regen = false
					s.Play()
				}
			case scoresync.EventMeasureChanged:
				fmt.Printf("measure %d  %6.2fs / %.2fs\n", ev.Measure+1, ev.State.CurrentTime, ev.State.Duration)
			case scoresync.EventStateChanged:
				if ev.State.Playing {
					started = true
				} else if started {
					fmt.Println("playback finished")
					return nil
				}
			case scoresync.EventError:
				fmt.Println("error:", ev.Message)
			}
		}
	}
}
