package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	scoresync "github.com/cbegin/scoresync-go"
	"github.com/cbegin/scoresync-go/internal/errs"
)

var (
	measuresWidth   float64
	measuresTimeout time.Duration
)

func init() {
	measuresCmd.Flags().Float64Var(&measuresWidth, "width", 960, "layout width in pixels")
	measuresCmd.Flags().DurationVar(&measuresTimeout, "timeout", 30*time.Second, "give up waiting for the layout after this long")
	rootCmd.AddCommand(measuresCmd)
}

var measuresCmd = &cobra.Command{
	Use:   "measures <score>",
	Short: "Print the bounding box of every measure as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		s := newSession()
		defer s.Close()

		events := s.Watch()
		s.Resize(measuresWidth, 0)
		if err := loadSource(ctx, s, args[0], ""); err != nil {
			return err
		}
		timeout := time.After(measuresTimeout)
		for {
			s.Pump()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timeout:
				return errs.Render(nil, "layout timed out", "The score took too long to lay out.")
			case ev := <-events:
				if ev.Kind != scoresync.EventRenderFinished {
					continue
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s.MeasureBounds())
			case <-s.Wake():
			}
		}
	},
}
