package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reelfeed/internal/transcode"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file>",
		Short: "Inspect a local video file's streams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := transcode.Probe(cmd.Context(), cfg.Transcode.FFprobeBinary, args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(result.Streams))
			for _, stream := range result.Streams {
				dimensions := ""
				if stream.Width > 0 || stream.Height > 0 {
					dimensions = fmt.Sprintf("%dx%d", stream.Width, stream.Height)
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", stream.Index),
					stream.CodecType,
					stream.CodecName,
					dimensions,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Type", "Codec", "Dimensions"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			fmt.Fprintf(out, "Duration: %.1fs  Video streams: %d  Audio streams: %d  Playable: %s\n",
				result.DurationSeconds(),
				result.VideoStreamCount(),
				result.AudioStreamCount(),
				yesNo(result.VideoStreamCount() > 0))
			return nil
		},
	}
}
