package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	scoresync "github.com/cbegin/scoresync-go"
)

var (
	wavOut  string
	wavOpts = scoresync.DefaultRenderOptions()
)

func init() {
	renderWAVCmd.Flags().StringVarP(&wavOut, "output", "o", "", "output file (defaults to the score name with .wav)")
	renderWAVCmd.Flags().IntVar(&wavOpts.SampleRate, "sample-rate", wavOpts.SampleRate, "output sample rate")
	renderWAVCmd.Flags().Float64Var(&wavOpts.Tempo, "tempo", 0, "tempo in BPM (0 keeps the score's)")
	renderWAVCmd.Flags().BoolVar(&wavOpts.Metronome, "metronome", false, "mix in the metronome click")
	renderWAVCmd.Flags().IntVar(&wavOpts.Program, "instrument", -1, "General MIDI program for every track")
	renderWAVCmd.Flags().Float64Var(&wavOpts.Tail, "tail", wavOpts.Tail, "seconds of ring-out after the last note")
	rootCmd.AddCommand(renderWAVCmd)
}

var renderWAVCmd = &cobra.Command{
	Use:   "render-wav <score>",
	Short: "Render the score through the plucked-string synth to a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		s, err := readScore(ctx, args[0])
		if err != nil {
			return err
		}
		samples, err := scoresync.RenderSamples(s, wavOpts)
		if err != nil {
			return err
		}
		out := wavOut
		if out == "" {
			out = outputName(args[0], ".wav")
		}
		if _, err := writeFile(out, func(w *bufio.Writer) (int, error) {
			return 0, scoresync.WriteWAV(w, samples, wavOpts.SampleRate, 2)
		}); err != nil {
			return err
		}
		secs := float64(len(samples)/2) / float64(wavOpts.SampleRate)
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%.1fs)\n", out, secs)
		return nil
	},
}
