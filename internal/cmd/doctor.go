package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/studyforge/studyforge/internal/config"
	"github.com/studyforge/studyforge/internal/planner"
)

// Doctor check states.
const (
	doctorPass = "ok"
	doctorWarn = "warn"
	doctorFail = "fail"
)

// doctorCheck is one diagnostic row.
type doctorCheck struct {
	Name   string
	Status string
	Detail string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the installation and configuration and suggest fixes for common issues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		checks := runDoctorChecks(cmd.Context())
		if err := renderDoctor(cmd.OutOrStdout(), checks); err != nil {
			return err
		}
		for _, c := range checks {
			if c.Status == doctorFail {
				return fmt.Errorf("doctor: %s check failed: %s", c.Name, c.Detail)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctorChecks(ctx context.Context) []doctorCheck {
	checks := []doctorCheck{goVersionCheck(), libraryCheck()}

	if path := config.DefaultConfigPath(); path == "" {
		checks = append(checks, doctorCheck{"config directory", doctorWarn, "cannot resolve XDG config directory; using ./config only"})
	} else {
		checks = append(checks, doctorCheck{"config directory", doctorPass, filepath.Dir(path)})
	}

	if _, err := planner.DefaultPrompt(); err != nil {
		checks = append(checks, doctorCheck{"prompt template", doctorFail, err.Error()})
	} else {
		checks = append(checks, doctorCheck{"prompt template", doctorPass, planner.DefaultPromptSlug})
	}

	cfg, err := loadConfig()
	if err != nil {
		return append(checks, doctorCheck{"configuration", doctorFail, strings.ReplaceAll(err.Error(), "\n", "; ")})
	}
	checks = append(checks, doctorCheck{"configuration", doctorPass, "valid"})
	checks = append(checks, upstreamCheck(cfg.AILink))
	checks = append(checks, admissionCheck(ctx, cfg.Admission))
	return checks
}

func goVersionCheck() doctorCheck {
	v := runtime.Version()
	return doctorCheck{"go runtime", doctorPass, fmt.Sprintf("%s %s/%s", v, runtime.GOOS, runtime.GOARCH)}
}

func libraryCheck() doctorCheck {
	version := crucible.GetVersion()
	if version.Gofulmen == "" || version.Crucible == "" {
		return doctorCheck{"gofulmen", doctorWarn, "version metadata unavailable"}
	}
	return doctorCheck{"gofulmen", doctorPass, fmt.Sprintf("gofulmen %s, crucible %s", version.Gofulmen, version.Crucible)}
}

func upstreamCheck(cfg config.AILinkConfig) doctorCheck {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return doctorCheck{"upstream", doctorWarn, fmt.Sprintf("no API key; set %s_AILINK_API_KEY or %s", config.EnvPrefix, config.APIKeyFallbackEnv)}
	}
	return doctorCheck{"upstream", doctorPass, fmt.Sprintf("%s (%s)", cfg.Model, cfg.BaseURL)}
}

func admissionCheck(ctx context.Context, cfg config.AdmissionConfig) doctorCheck {
	detail := fmt.Sprintf("%s/%s, %d per %s", cfg.Backend, cfg.Strategy, cfg.Limit, cfg.Window)
	if cfg.Backend != config.BackendRedis {
		return doctorCheck{"admission", doctorPass, detail}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rdb := newRedisClient(cfg.Redis)
	defer rdb.Close() // nolint:errcheck // best-effort cleanup
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return doctorCheck{"admission", doctorFail, fmt.Sprintf("redis %s unreachable: %v", cfg.Redis.Addr, err)}
	}
	return doctorCheck{"admission", doctorPass, detail + ", redis " + cfg.Redis.Addr}
}

func renderDoctor(w io.Writer, checks []doctorCheck) error {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Check", "Status", "Detail"})

	failed := 0
	for _, c := range checks {
		if c.Status != doctorPass {
			failed++
		}
		t.AppendRow(table.Row{c.Name, c.Status, c.Detail})
	}

	summary := "all checks passed"
	if failed > 0 {
		summary = fmt.Sprintf("%d check(s) need attention", failed)
	}
	t.AppendFooter(table.Row{"", "", summary})

	_, err := fmt.Fprintln(w, t.Render())
	return err
}
