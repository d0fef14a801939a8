package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"reelfeed/internal/cache"
	"reelfeed/internal/deps"
	"reelfeed/internal/download"
	"reelfeed/internal/feed"
	"reelfeed/internal/logging"
	"reelfeed/internal/render"
	"reelfeed/internal/transcode"
)

func newPlayCommand(ctx *commandContext) *cobra.Command {
	var playlistPath string
	var startIndex int

	cmd := &cobra.Command{
		Use:   "play [remote-ref ...]",
		Short: "Play a feed of remote video references",
		Long: `Play resolves each reference through the download and transcode pipeline
and plays the frontmost item. Scroll with n/p, toggle mute with m, toggle
play/pause with space, quit with q.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			refs := append([]string(nil), args...)
			if playlistPath != "" {
				fromFile, err := readPlaylist(playlistPath)
				if err != nil {
					return err
				}
				refs = append(refs, fromFile...)
			}
			items := feed.ItemsFromRefs(refs)
			if len(items) == 0 {
				return fmt.Errorf("no playable references given; pass them as arguments or via --playlist")
			}

			if missing := deps.MissingRequired(deps.CheckBinaries(deps.Requirements(cfg))); len(missing) > 0 {
				return fmt.Errorf("missing required binaries %v; run `reelfeed deps` for details", missing)
			}

			logger, err := ctx.buildLogger(cfg)
			if err != nil {
				return err
			}

			store, err := cache.Open(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			session, err := feed.NewSession(cfg, feed.Deps{
				Store:    store,
				Fetcher:  download.NewFetcher(cfg, logger),
				Pipeline: transcode.NewPipeline(cfg, logger),
				Factory:  render.NewFFplayFactory(cfg.Playback.PlayerBinary, logger),
				Logger:   logger,
				OnReady: func(slot int, assetID string) {
					logger.Info("slot ready",
						logging.Int(logging.FieldSlot, slot),
						logging.String(logging.FieldAssetID, assetID))
				},
				OnFailed: func(slot int, assetID string, err error) {
					logger.Warn("slot failed",
						logging.Int(logging.FieldSlot, slot),
						logging.String(logging.FieldAssetID, assetID),
						logging.Error(err))
				},
			})
			if err != nil {
				return err
			}
			defer session.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session.SetItems(items)
			if startIndex != 0 {
				session.OnFrontmostSlotChanged(startIndex)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Playing %d item(s). Commands: n(ext) p(rev) m(ute) <space> q(uit)\n", len(items))
			printFrontmost(out, session)

			commands := make(chan string)
			go func() {
				defer close(commands)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					select {
					case commands <- scanner.Text():
					case <-runCtx.Done():
						return
					}
				}
			}()

			playing := true
			muted := cfg.Playback.StartMuted
			for {
				select {
				case <-runCtx.Done():
					return nil
				case line, ok := <-commands:
					if !ok {
						// stdin closed; keep playing until interrupted
						<-runCtx.Done()
						return nil
					}
					switch strings.TrimSpace(line) {
					case "q", "quit":
						return nil
					case "n", "next":
						session.OnFrontmostSlotChanged(session.Frontmost() + 1)
						printFrontmost(out, session)
					case "p", "prev":
						session.OnFrontmostSlotChanged(session.Frontmost() - 1)
						printFrontmost(out, session)
					case "m", "mute":
						muted = !muted
						session.SetMuted(muted)
						fmt.Fprintf(out, "muted: %s\n", yesNo(muted))
					case "", " ":
						playing = !playing
						session.SetPlaying(playing)
						fmt.Fprintf(out, "playing: %s\n", yesNo(playing))
					default:
						fmt.Fprintf(out, "unknown command %q\n", line)
					}
				}
			}
		},
	}

	cmd.Flags().StringVarP(&playlistPath, "playlist", "f", "", "File with one remote reference per line")
	cmd.Flags().IntVar(&startIndex, "start-index", 0, "Feed position to start from")
	return cmd
}

func printFrontmost(out io.Writer, session *feed.Session) {
	items := session.Items()
	index := session.Frontmost()
	if index < 0 || index >= len(items) {
		return
	}
	fmt.Fprintf(out, "[%d/%d] %s\n", index+1, len(items), items[index].Title)
}

func readPlaylist(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open playlist: %w", err)
	}
	defer file.Close()

	var refs []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	return refs, nil
}
