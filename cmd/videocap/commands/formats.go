package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"videocap/internal/camera"
	"videocap/internal/capture"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the capture formats of the default camera",
	Long: `Configure a session on the default camera and list its formats in device
order. The active format is marked with '*', formats matching the requested
frame rate and pixel format with '+'.`,
	Example: `  # List formats of the default V4L2 camera
  videocap formats

  # Check which formats can deliver 60 fps
  videocap formats --fps 60`,
	RunE: runFormats,
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

func runFormats(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	session, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	if err := session.ConfigureWait(cfg.Preset(), cfg.Camera.FrameRate); err != nil {
		return err
	}

	subtype, err := cfg.Subtype()
	if err != nil {
		return err
	}
	return printFormats(cmd.OutOrStdout(), session, cfg.Camera.FrameRate, subtype)
}

func printFormats(out io.Writer, session *capture.Session, fps int, subtype camera.Subtype) error {
	info, _ := session.Device()
	active, _ := session.ActiveFormat()
	formats := session.Formats()

	matching := make(map[int]bool)
	for _, c := range camera.MatchingFormats(formats, active.Dimensions, fps, subtype) {
		matching[c.Index] = true
	}

	fmt.Fprintf(out, "%s (%s)\n", info.Name, info.Path)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tINDEX\tSUBTYPE\tSIZE\tFRAME RATES")
	for i, f := range formats {
		mark := ""
		if f.Equal(active) {
			mark += "*"
		}
		if matching[i] {
			mark += "+"
		}
		ranges := ""
		for j, r := range f.FrameRateRanges {
			if j > 0 {
				ranges += ", "
			}
			ranges += r.String()
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", mark, i, f.Subtype, f.Dimensions, ranges)
	}
	return w.Flush()
}
