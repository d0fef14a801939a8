package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reelfeed/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())
	return configCmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "show",
		Short:       "Show the effective configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.flagPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults are in effect")
			}
			rows := [][]string{
				{"paths.cache_dir", cfg.Paths.CacheDir},
				{"paths.log_dir", cfg.Paths.LogDir},
				{"download.request_timeout", fmt.Sprintf("%ds", cfg.Download.RequestTimeout)},
				{"download.user_agent", cfg.Download.UserAgent},
				{"transcode.ffmpeg_binary", cfg.Transcode.FFmpegBinary},
				{"transcode.ffprobe_binary", cfg.Transcode.FFprobeBinary},
				{"transcode.export_timeout", fmt.Sprintf("%ds", cfg.Transcode.ExportTimeout)},
				{"playback.retry_delay_ms", fmt.Sprintf("%d", cfg.Playback.RetryDelay)},
				{"playback.busy_retry_delay_ms", fmt.Sprintf("%d", cfg.Playback.BusyRetryDelay)},
				{"playback.max_attempts", fmt.Sprintf("%d", cfg.Playback.MaxAttempts)},
				{"playback.start_muted", yesNo(cfg.Playback.StartMuted)},
				{"playback.window_size", fmt.Sprintf("%d", cfg.Playback.WindowSize)},
				{"playback.player_binary", cfg.Playback.PlayerBinary},
				{"logging.format", cfg.Logging.Format},
				{"logging.level", cfg.Logging.Level},
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Setting", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			}
			written, err := config.WriteSample(target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", written)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	return cmd
}
