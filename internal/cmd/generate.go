package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/studyforge/studyforge/internal/ailink/driver"
	"github.com/studyforge/studyforge/internal/observability"
	"github.com/studyforge/studyforge/internal/planner"
)

var generateCmd = &cobra.Command{
	Use:   "generate <topic>",
	Short: "Generate a study plan",
	Long: `Generate a study plan for a topic directly, without the HTTP server
or admission control. The topic follows the same rules as POST /generate.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().Bool("json", false, "Output a JSON document instead of markdown")
	generateCmd.Flags().String("model", "", "Model override")
	generateCmd.Flags().String("language", "", "Plan language override")
}

// generateOutput is the --json document.
type generateOutput struct {
	Topic      string        `json:"topic"`
	Title      string        `json:"title,omitempty"`
	Model      string        `json:"model"`
	Plan       string        `json:"plan"`
	DurationMs int64         `json:"duration_ms"`
	Usage      *driver.Usage `json:"usage,omitempty"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	topic, err := planner.NormalizeTopic(args[0])
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	modelOverride, _ := cmd.Flags().GetString("model")
	languageOverride, _ := cmd.Flags().GetString("language")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if m := strings.TrimSpace(modelOverride); m != "" {
		cfg.AILink.Model = m
	}
	if l := strings.TrimSpace(languageOverride); l != "" {
		cfg.Planner.Language = l
	}

	forwarder, err := buildForwarder(cfg)
	if err != nil {
		return err
	}

	observability.CLILogger.Debug("Generating plan",
		zap.String("topic", topic),
		zap.String("model", forwarder.Model()))

	plan, err := forwarder.Generate(cmd.Context(), topic)
	if err != nil {
		return describeGenerationError(err)
	}

	return writePlan(cmd.OutOrStdout(), topic, plan, jsonOutput)
}

func writePlan(w io.Writer, topic string, plan *planner.Plan, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(w, strings.TrimRight(plan.Text, "\n"))
		return err
	}

	out := generateOutput{
		Topic:      topic,
		Title:      plan.Title(),
		Model:      plan.Model,
		Plan:       plan.Text,
		DurationMs: plan.Duration.Round(time.Millisecond).Milliseconds(),
		Usage:      plan.Usage,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// describeGenerationError turns an upstream failure into an actionable CLI error.
func describeGenerationError(err error) error {
	switch planner.Classify(err) {
	case planner.KindUpstreamAuth:
		return fmt.Errorf("upstream rejected the credentials; set STUDYFORGE_AILINK_API_KEY or OPENROUTER_API_KEY: %w", err)
	case planner.KindUpstreamRateLimit:
		return fmt.Errorf("upstream is rate limiting requests, try again later: %w", err)
	case planner.KindUpstreamEmpty:
		return fmt.Errorf("upstream returned an empty plan: %w", err)
	default:
		return fmt.Errorf("plan generation failed: %w", err)
	}
}
