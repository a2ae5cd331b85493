package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	scoresync "github.com/cbegin/scoresync-go"
	"github.com/cbegin/scoresync-go/internal/errs"
	"github.com/cbegin/scoresync-go/internal/fetch"
	"github.com/cbegin/scoresync-go/internal/layout"
	"github.com/cbegin/scoresync-go/internal/musicxml"
	"github.com/cbegin/scoresync-go/internal/pdfexport"
	"github.com/cbegin/scoresync-go/internal/score"
)

var (
	pdfOut   string
	pdfWidth float64
	pdfOpts  = pdfexport.DefaultOptions()
)

func init() {
	exportPDFCmd.Flags().StringVarP(&pdfOut, "output", "o", "", "output file (defaults to the score name with .pdf)")
	exportPDFCmd.Flags().Float64Var(&pdfWidth, "width", 960, "layout width in pixels")
	exportPDFCmd.Flags().StringVar(&pdfOpts.PageSize, "page", pdfOpts.PageSize, "page size (A4, Letter, A3, ...)")
	exportPDFCmd.Flags().StringVar(&pdfOpts.Orientation, "orientation", pdfOpts.Orientation, "P or L")
	exportPDFCmd.Flags().Float64Var(&pdfOpts.Margin, "margin", pdfOpts.Margin, "page margin in millimetres")
	rootCmd.AddCommand(exportPDFCmd)
}

var exportPDFCmd = &cobra.Command{
	Use:   "export-pdf <score>",
	Short: "Print the laid-out score to a PDF practice sheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		s, err := readScore(ctx, args[0])
		if err != nil {
			return err
		}
		s.ApplyDisplayMode(cfg.Mode())
		st := layout.TabStyle
		if b, _ := scoresync.ParseBackend(cfg.Backend); b == scoresync.BackendNotation {
			st = layout.NotationStyle
		}
		out := pdfOut
		if out == "" {
			out = outputName(args[0], ".pdf")
		}
		pages, err := writeFile(out, func(w *bufio.Writer) (int, error) {
			return pdfexport.Write(w, layout.Build(s, pdfWidth, st), pdfOpts)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d pages)\n", out, pages)
		return nil
	},
}

func readScore(ctx context.Context, src string) (*score.Score, error) {
	data, err := fetch.New().Get(ctx, src)
	if err != nil {
		return nil, err
	}
	return musicxml.Parse(data)
}

// outputName derives an output file name in the working directory from a
// score path or URL.
func outputName(src, ext string) string {
	base := filepath.Base(strings.TrimRight(src, "/"))
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		base = "score"
	}
	return base + ext
}

func writeFile(path string, fn func(w *bufio.Writer) (int, error)) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, errs.Render(err, "create "+path, "The output file could not be created.")
	}
	w := bufio.NewWriter(f)
	n, err := fn(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}
