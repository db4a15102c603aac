package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/studyforge/studyforge/internal/admission"
	"github.com/studyforge/studyforge/internal/config"
)

// errMemoryBackend is returned by admission subcommands when state lives in
// the server process.
var errMemoryBackend = errors.New("admission state is held in the server process; inspect and reset need admission.backend=redis")

var admissionJSON bool

var admissionCmd = &cobra.Command{
	Use:   "admission",
	Short: "Inspect and manage shared admission state",
}

var admissionInspectCmd = &cobra.Command{
	Use:   "inspect <identity>...",
	Short: "Show the current window for client identities",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		window, closeFn, err := openRedisWindow(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		now := time.Now()
		views := make([]identityView, 0, len(args))
		for _, id := range args {
			id = strings.TrimSpace(id)
			rec, found, err := window.Inspect(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", id, err)
			}
			views = append(views, newIdentityView(id, rec, found, now))
		}
		return renderIdentities(cmd.OutOrStdout(), views, admissionJSON)
	},
}

var admissionResetCmd = &cobra.Command{
	Use:   "reset <identity>",
	Short: "Forget the current window for a client identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		window, closeFn, err := openRedisWindow(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		id := strings.TrimSpace(args[0])
		existed, err := window.Reset(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("reset %s: %w", id, err)
		}

		lines := []string{"Admission Reset", "", "identity: " + id}
		if existed {
			lines = append(lines, "status:   window cleared")
		} else {
			lines = append(lines, "status:   no active window")
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return nil
	},
}

var admissionStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cumulative allowed and denied counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		window, closeFn, err := openRedisWindow(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		stats, err := window.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("read stats: %w", err)
		}
		return renderStats(cmd.OutOrStdout(), stats, admissionJSON)
	},
}

func init() {
	admissionCmd.PersistentFlags().BoolVar(&admissionJSON, "json", false, "Output JSON")
	admissionCmd.AddCommand(admissionInspectCmd)
	admissionCmd.AddCommand(admissionResetCmd)
	admissionCmd.AddCommand(admissionStatsCmd)
	rootCmd.AddCommand(admissionCmd)
}

func openRedisWindow(cmd *cobra.Command) (*admission.RedisWindow, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Admission.Backend != config.BackendRedis {
		return nil, nil, errMemoryBackend
	}

	rdb := newRedisClient(cfg.Admission.Redis)
	window := admission.NewRedisWindow(rdb, cfg.Admission.Limit, cfg.Admission.Window,
		admission.WithPrefix(cfg.Admission.Redis.Prefix))
	if err := window.Ping(cmd.Context()); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Admission.Redis.Addr, err)
	}
	return window, func() { _ = rdb.Close() }, nil
}

// identityView is one row of inspect output.
type identityView struct {
	Identity  string     `json:"identity"`
	Active    bool       `json:"active"`
	Count     int        `json:"count"`
	WindowEnd *time.Time `json:"window_end,omitempty"`
	ResetsIn  string     `json:"resets_in,omitempty"`
}

func newIdentityView(id string, rec admission.UsageRecord, found bool, now time.Time) identityView {
	v := identityView{Identity: id}
	if !found || rec.Expired(now) {
		return v
	}
	end := rec.WindowEnd.UTC()
	v.Active = true
	v.Count = rec.Count
	v.WindowEnd = &end
	v.ResetsIn = rec.WindowEnd.Sub(now).Round(time.Second).String()
	return v
}

func renderIdentities(w io.Writer, views []identityView, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Identity", "Count", "Window End", "Resets In"})
	for _, v := range views {
		if !v.Active {
			t.AppendRow(table.Row{v.Identity, 0, "-", "-"})
			continue
		}
		t.AppendRow(table.Row{v.Identity, v.Count, v.WindowEnd.Format(time.RFC3339), v.ResetsIn})
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func renderStats(w io.Writer, stats admission.Stats, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Decision", "Count"})
	t.AppendRow(table.Row{"allowed", stats.Allowed})
	t.AppendRow(table.Row{"denied", stats.Denied})
	t.AppendFooter(table.Row{"total", stats.Allowed + stats.Denied})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
