// Package planner turns a study topic into a generated study plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/studyforge/studyforge/internal/ailink/driver"
)

// Generation defaults.
const (
	DefaultModel       = "google/gemini-2.5-flash"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 10000
	DefaultLanguage    = "Simplified Chinese"
)

// ErrEmptyPlan is returned when the model produced no text.
var ErrEmptyPlan = errors.New("model returned an empty plan")

// Options configures a Forwarder. Zero values fall back to the defaults.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	Language    string
	Timeout     time.Duration
	Prompt      *Prompt
}

// Plan is a generated study plan.
type Plan struct {
	Text     string
	Model    string
	Usage    *driver.Usage
	Duration time.Duration
}

// Title returns the plan's leading markdown heading, if any.
func (p *Plan) Title() string {
	if p == nil {
		return ""
	}
	first, _, _ := strings.Cut(strings.TrimSpace(p.Text), "\n")
	first = strings.TrimSpace(first)
	if !strings.HasPrefix(first, "#") {
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(first, "#"))
}

// Forwarder issues one generation call per topic.
type Forwarder struct {
	driver      driver.Driver
	prompt      *Prompt
	model       string
	temperature float64
	maxTokens   int
	language    string
	timeout     time.Duration
}

// NewForwarder builds a forwarder around d.
func NewForwarder(d driver.Driver, opts Options) (*Forwarder, error) {
	if d == nil {
		return nil, errors.New("planner: driver is required")
	}

	p := opts.Prompt
	if p == nil {
		var err error
		if p, err = DefaultPrompt(); err != nil {
			return nil, err
		}
	}

	f := &Forwarder{
		driver:      d,
		prompt:      p,
		model:       strings.TrimSpace(opts.Model),
		temperature: DefaultTemperature,
		maxTokens:   opts.MaxTokens,
		language:    strings.TrimSpace(opts.Language),
		timeout:     opts.Timeout,
	}
	if f.model == "" {
		f.model = DefaultModel
	}
	if opts.Temperature != nil {
		f.temperature = *opts.Temperature
	}
	if f.maxTokens <= 0 {
		f.maxTokens = DefaultMaxTokens
	}
	if f.language == "" {
		f.language = DefaultLanguage
	}
	return f, nil
}

// Model returns the model the forwarder requests.
func (f *Forwarder) Model() string { return f.model }

// Messages renders the system and user messages for topic.
func (f *Forwarder) Messages(topic string) ([]driver.Message, error) {
	system, user, err := f.prompt.Render(PromptVars{Topic: topic, Language: f.language})
	if err != nil {
		return nil, err
	}
	return []driver.Message{
		{Role: driver.RoleSystem, Content: system},
		{Role: driver.RoleUser, Content: user},
	}, nil
}

// Generate asks the model for a plan on topic. topic is expected to be
// normalized already. The call is bounded by ctx and the forwarder timeout.
func (f *Forwarder) Generate(ctx context.Context, topic string) (*Plan, error) {
	msgs, err := f.Messages(topic)
	if err != nil {
		return nil, err
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	temperature := f.temperature
	maxTokens := f.maxTokens
	req := &driver.Request{
		Model:       f.model,
		Messages:    msgs,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Metadata:    map[string]string{"prompt": f.prompt.Config.Slug},
	}

	start := time.Now()
	resp, err := f.driver.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", f.driver.Name(), err)
	}
	if resp == nil || !resp.HasText() {
		return nil, ErrEmptyPlan
	}

	model := resp.Model
	if model == "" {
		model = f.model
	}
	return &Plan{
		Text:     resp.Text,
		Model:    model,
		Usage:    resp.Usage,
		Duration: time.Since(start),
	}, nil
}
