package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"taillogs/internal/aggregator"
	"taillogs/internal/logging"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newPollCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var follow bool
	var noColor bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Print the lines written since the previous poll",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			logger := logging.New(cfg.LogLevel).WithWriter(cmd.ErrOrStderr())
			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			printer := &recordPrinter{
				out:      out,
				json:     jsonOutput,
				colorize: !noColor && !jsonOutput && shouldColorize(out),
			}

			pollOnce := func(ctx context.Context) error {
				records, err := a.aggregator.Poll(ctx)
				if err != nil && records == nil {
					return err
				}
				if err != nil {
					logger.Warn("Cursors not saved; these lines may be printed again", logger.Args("error", err))
				}
				return printer.print(records)
			}

			if !follow {
				return pollOnce(cmd.Context())
			}

			if interval <= 0 {
				interval = cfg.Tail.UpdateInterval
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := pollOnce(runCtx); err != nil {
					if runCtx.Err() != nil {
						return nil
					}
					logger.Warn("Poll failed", logger.Args("error", err))
				}
				select {
				case <-runCtx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print one JSON record per line")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling at the update interval")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable stream colours")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval with --follow (default UPDATE_INTERVAL)")

	return cmd
}

type recordPrinter struct {
	out      io.Writer
	json     bool
	colorize bool
}

func (p *recordPrinter) print(records []aggregator.TaggedRecord) error {
	if p.json {
		enc := json.NewEncoder(p.out)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	for _, r := range records {
		if _, err := fmt.Fprintln(p.out, formatRecord(r, p.colorize)); err != nil {
			return err
		}
	}
	return nil
}

// formatRecord renders "node/stream | line", the prefix in the stream colour
func formatRecord(r aggregator.TaggedRecord, colorize bool) string {
	prefix := r.NodeName + "/" + r.StreamName
	if colorize {
		if rgb, ok := parseHexColor(r.Color); ok {
			prefix = rgb.Sprint(prefix)
		}
	}
	return prefix + " | " + r.Line
}

func parseHexColor(hex string) (pterm.RGB, bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return pterm.RGB{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return pterm.RGB{}, false
	}
	return pterm.NewRGB(uint8(v>>16), uint8(v>>8), uint8(v)), true
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
