package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/studyforge/studyforge/internal/ailink/driver"
)

type fakeDriver struct {
	resp *driver.Response
	err  error
	got  *driver.Request
	ctx  context.Context
}

func (f *fakeDriver) Name() string { return "fake" }

func (f *fakeDriver) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	f.got = req
	f.ctx = ctx
	return f.resp, f.err
}

func TestDefaultPromptRenders(t *testing.T) {
	p, err := DefaultPrompt()
	require.NoError(t, err)
	require.Equal(t, DefaultPromptSlug, p.Config.Slug)

	system, user, err := p.Render(PromptVars{Topic: "Rust", Language: "English"})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(system, "Language: English"))
	for _, stage := range []string{
		"Knowledge mapping",
		"Misconception busting",
		"Deliberate practice",
		"Expert reasoning",
		"Applied problem solving",
		"Meta-learning system",
	} {
		require.Contains(t, system, stage)
	}
	require.Contains(t, system, "The very first line of the output must be: # {a title")
	require.Equal(t,
		`Strictly follow the instructions in your system prompt and generate an in-depth mastery study plan on "Rust".`,
		user)
}

func TestRenderRequiresTopic(t *testing.T) {
	p, err := DefaultPrompt()
	require.NoError(t, err)

	_, _, err = p.Render(PromptVars{Language: "English"})
	require.Error(t, err)
}

func TestLoadPromptRejectsIncompleteFiles(t *testing.T) {
	_, err := LoadPrompt("empty.md", []byte("  "))
	require.Error(t, err)

	_, err = LoadPrompt("noslug.md", []byte("---\nuser_template: hi\n---\nbody"))
	require.ErrorContains(t, err, "missing slug")

	_, err = LoadPrompt("nobody.md", []byte("---\nslug: x\nuser_template: hi\n---\n"))
	require.ErrorContains(t, err, "missing system template")

	_, err = LoadPrompt("nouser.md", []byte("---\nslug: x\n---\nbody"))
	require.ErrorContains(t, err, "missing user_template")

	_, err = LoadPrompt("bad.md", []byte("---\nslug: x\nuser_template: \"{{.Topic\"\n---\nbody"))
	require.Error(t, err)
}

func TestNormalizeTopic(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "empty", raw: "", wantErr: ErrTopicMissing},
		{name: "whitespace only", raw: "   ", wantErr: ErrTopicLength},
		{name: "one char", raw: "a", wantErr: ErrTopicLength},
		{name: "two chars", raw: "Go", want: "Go"},
		{name: "trimmed", raw: "  Rust  ", want: "Rust"},
		{name: "hundred chars", raw: strings.Repeat("x", 100), want: strings.Repeat("x", 100)},
		{name: "hundred and one", raw: strings.Repeat("x", 101), wantErr: ErrTopicLength},
		{name: "multibyte counted by code point", raw: "机器学习", want: "机器学习"},
		{name: "hundred multibyte", raw: strings.Repeat("学", 100), want: strings.Repeat("学", 100)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeTopic(tc.raw)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestForwarderSendsFixedParameters(t *testing.T) {
	fd := &fakeDriver{resp: &driver.Response{Text: "# Rust plan\n\nDay 1", Usage: &driver.Usage{TotalTokens: 42}}}
	f, err := NewForwarder(fd, Options{})
	require.NoError(t, err)

	plan, err := f.Generate(context.Background(), "Rust")
	require.NoError(t, err)
	require.Equal(t, "# Rust plan\n\nDay 1", plan.Text)
	require.Equal(t, "Rust plan", plan.Title())
	require.Equal(t, DefaultModel, plan.Model)
	require.Equal(t, 42, plan.Usage.TotalTokens)

	require.NotNil(t, fd.got)
	require.Equal(t, "google/gemini-2.5-flash", fd.got.Model)
	require.NotNil(t, fd.got.Temperature)
	require.InDelta(t, 0.7, *fd.got.Temperature, 1e-9)
	require.NotNil(t, fd.got.MaxTokens)
	require.Equal(t, 10000, *fd.got.MaxTokens)
	require.Len(t, fd.got.Messages, 2)
	require.Equal(t, driver.RoleSystem, fd.got.Messages[0].Role)
	require.Contains(t, fd.got.Messages[0].Content, "Language: Simplified Chinese")
	require.Equal(t, driver.RoleUser, fd.got.Messages[1].Role)
	require.Contains(t, fd.got.Messages[1].Content, `"Rust"`)
}

func TestForwarderEmptyText(t *testing.T) {
	for _, resp := range []*driver.Response{nil, {Text: ""}, {Text: "  \n "}} {
		f, err := NewForwarder(&fakeDriver{resp: resp}, Options{})
		require.NoError(t, err)

		_, err = f.Generate(context.Background(), "Rust")
		require.ErrorIs(t, err, ErrEmptyPlan)
		require.Equal(t, KindUpstreamEmpty, Classify(err))
	}
}

func TestForwarderWrapsDriverError(t *testing.T) {
	perr := &driver.ProviderError{Provider: "openai", StatusCode: 429, Message: "slow down"}
	f, err := NewForwarder(&fakeDriver{err: perr}, Options{})
	require.NoError(t, err)

	_, err = f.Generate(context.Background(), "Rust")
	require.Error(t, err)

	var got *driver.ProviderError
	require.ErrorAs(t, err, &got)
	require.Equal(t, KindUpstreamRateLimit, Classify(err))
}

func TestForwarderAppliesTimeout(t *testing.T) {
	fd := &fakeDriver{resp: &driver.Response{Text: "# t"}}
	f, err := NewForwarder(fd, Options{Timeout: time.Minute})
	require.NoError(t, err)

	_, err = f.Generate(context.Background(), "Rust")
	require.NoError(t, err)

	deadline, ok := fd.ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

func TestNewForwarderRequiresDriver(t *testing.T) {
	_, err := NewForwarder(nil, Options{})
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{err: nil, want: KindUnclassified},
		{err: ErrEmptyPlan, want: KindUpstreamEmpty},
		{err: fmt.Errorf("openai completion: %w", driver.ErrMissingAPIKey), want: KindUpstreamAuth},
		{err: &driver.ProviderError{StatusCode: 401}, want: KindUpstreamAuth},
		{err: &driver.ProviderError{StatusCode: 403}, want: KindUpstreamAuth},
		{err: &driver.ProviderError{StatusCode: 429}, want: KindUpstreamRateLimit},
		{err: &driver.ProviderError{Code: "invalid_api_key"}, want: KindUpstreamAuth},
		{err: &driver.ProviderError{Code: "rate_limit_exceeded"}, want: KindUpstreamRateLimit},
		{err: &driver.ProviderError{StatusCode: 502, Message: "bad gateway"}, want: KindUnclassified},
		{err: errors.New("Incorrect API key provided"), want: KindUpstreamAuth},
		{err: errors.New("upstream rate limit exceeded"), want: KindUpstreamRateLimit},
		{err: context.DeadlineExceeded, want: KindUnclassified},
		{err: errors.New("boom"), want: KindUnclassified},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(tc.err), "err=%v", tc.err)
	}
}
