package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyforge/studyforge/internal/admission"
	"github.com/studyforge/studyforge/internal/ailink/driver"
	"github.com/studyforge/studyforge/internal/config"
	errwrap "github.com/studyforge/studyforge/internal/errors"
	"github.com/studyforge/studyforge/internal/planner"
)

func testAdmissionConfig() config.AdmissionConfig {
	return config.AdmissionConfig{
		Backend:  config.BackendMemory,
		Strategy: config.StrategyFixedWindow,
		Limit:    5,
		Window:   time.Hour,
		Redis:    config.RedisConfig{Prefix: "test:admission"},
	}
}

func TestBuildLimiterMemory(t *testing.T) {
	limiter, rdb, err := buildLimiter(context.Background(), testAdmissionConfig())
	require.NoError(t, err)
	assert.Nil(t, rdb)
	assert.IsType(t, &admission.FixedWindow{}, limiter)
}

func TestBuildLimiterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testAdmissionConfig()
	cfg.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()

	limiter, rdb, err := buildLimiter(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, rdb)
	t.Cleanup(func() { _ = rdb.Close() })

	assert.IsType(t, &admission.RedisWindow{}, limiter)
	d, err := limiter.Admit(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, mr.Exists("test:admission:window:1.2.3.4"))
}

func TestBuildLimiterRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testAdmissionConfig()
	cfg.Backend = config.BackendRedis
	cfg.Redis.Addr = addr

	_, rdb, err := buildLimiter(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, rdb)
	assert.Contains(t, err.Error(), addr)
}

func TestBuildForwarderUsesConfig(t *testing.T) {
	cfg := &config.Config{
		AILink: config.AILinkConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "google/gemini-2.5-flash",
			Temperature: 0.7,
			MaxTokens:   10000,
		},
		Planner: config.PlannerConfig{Language: "English"},
	}

	f, err := buildForwarder(cfg)
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-2.5-flash", f.Model())

	msgs, err := f.Messages("Rust")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "English")
	assert.Contains(t, msgs[1].Content, `"Rust"`)

	_, err = f.Generate(context.Background(), "Rust")
	assert.ErrorIs(t, err, driver.ErrMissingAPIKey)
}

func TestWritePlan(t *testing.T) {
	plan := &planner.Plan{
		Text:     "# Rust in Depth\n\n## Stage 1\n",
		Model:    "m",
		Duration: 1500 * time.Millisecond,
		Usage:    &driver.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}

	var text bytes.Buffer
	require.NoError(t, writePlan(&text, "Rust", plan, false))
	assert.Equal(t, "# Rust in Depth\n\n## Stage 1\n", text.String())

	var js bytes.Buffer
	require.NoError(t, writePlan(&js, "Rust", plan, true))
	var out generateOutput
	require.NoError(t, json.Unmarshal(js.Bytes(), &out))
	assert.Equal(t, "Rust", out.Topic)
	assert.Equal(t, "Rust in Depth", out.Title)
	assert.Equal(t, int64(1500), out.DurationMs)
	assert.Equal(t, 3, out.Usage.TotalTokens)
}

func TestDescribeGenerationError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{driver.ErrMissingAPIKey, "credentials"},
		{&driver.ProviderError{Provider: "openai", StatusCode: 429}, "rate limiting"},
		{planner.ErrEmptyPlan, "empty plan"},
		{errors.New("boom"), "plan generation failed"},
	}
	for _, tc := range cases {
		err := describeGenerationError(tc.err)
		assert.Contains(t, err.Error(), tc.want)
		assert.ErrorIs(t, err, tc.err)
	}
}

func TestIdentityViews(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	active := newIdentityView("1.1.1.1", admission.UsageRecord{Count: 3, WindowEnd: now.Add(30 * time.Minute)}, true, now)
	assert.True(t, active.Active)
	assert.Equal(t, 3, active.Count)
	assert.Equal(t, "30m0s", active.ResetsIn)

	expired := newIdentityView("2.2.2.2", admission.UsageRecord{Count: 5, WindowEnd: now}, true, now)
	assert.False(t, expired.Active)
	assert.Zero(t, expired.Count)

	missing := newIdentityView("3.3.3.3", admission.UsageRecord{}, false, now)
	assert.False(t, missing.Active)

	var buf bytes.Buffer
	require.NoError(t, renderIdentities(&buf, []identityView{active, missing}, false))
	assert.Contains(t, buf.String(), "1.1.1.1")
	assert.Contains(t, buf.String(), "3.3.3.3")
	assert.Contains(t, buf.String(), "30m0s")

	buf.Reset()
	require.NoError(t, renderIdentities(&buf, []identityView{active}, true))
	var decoded []identityView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "1.1.1.1", decoded[0].Identity)
}

func TestRenderStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderStats(&buf, admission.Stats{Allowed: 5, Denied: 2}, false))
	out := buf.String()
	assert.Contains(t, out, "allowed")
	assert.Contains(t, out, "denied")
	assert.Contains(t, out, "7")

	buf.Reset()
	require.NoError(t, renderStats(&buf, admission.Stats{Allowed: 5, Denied: 2}, true))
	assert.JSONEq(t, `{"allowed":5,"denied":2}`, buf.String())
}

func TestDoctorChecks(t *testing.T) {
	assert.Equal(t, doctorWarn, upstreamCheck(config.AILinkConfig{}).Status)
	assert.Equal(t, doctorPass, upstreamCheck(config.AILinkConfig{APIKey: "sk", Model: "m", BaseURL: "u"}).Status)

	mem := admissionCheck(context.Background(), testAdmissionConfig())
	assert.Equal(t, doctorPass, mem.Status)
	assert.Contains(t, mem.Detail, "5 per 1h0m0s")

	mr := miniredis.RunT(t)
	cfg := testAdmissionConfig()
	cfg.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()
	assert.Equal(t, doctorPass, admissionCheck(context.Background(), cfg).Status)

	mr.Close()
	assert.Equal(t, doctorFail, admissionCheck(context.Background(), cfg).Status)

	var buf bytes.Buffer
	require.NoError(t, renderDoctor(&buf, []doctorCheck{
		{"a", doctorPass, "fine"},
		{"b", doctorWarn, "hmm"},
	}))
	assert.Contains(t, buf.String(), "1 check(s) need attention")
}

func TestWriteVersion(t *testing.T) {
	orig := versionInfo
	t.Cleanup(func() { versionInfo = orig })
	SetVersionInfo("1.2.3", "abc", "2025-01-01")

	var buf bytes.Buffer
	require.NoError(t, writeVersion(&buf, false))
	assert.Equal(t, "studyforge 1.2.3\n", buf.String())

	buf.Reset()
	require.NoError(t, writeVersion(&buf, true))
	assert.Contains(t, buf.String(), "Commit: abc")
	assert.Contains(t, buf.String(), "Gofulmen:")
}

func TestExitWithCodeStderrUsesFoundryCode(t *testing.T) {
	var got int
	orig := exitFunc
	exitFunc = func(code int) { got = code }
	t.Cleanup(func() { exitFunc = orig })

	ExitWithCodeStderr(foundry.ExitConfigInvalid, "bad config", errors.New("boom"))

	info, ok := lookupExitInfo(foundry.ExitConfigInvalid)
	require.True(t, ok)
	assert.Equal(t, info.Code, got)
	assert.NotZero(t, got)
}

func TestExitFieldsUnwrapsEnvelope(t *testing.T) {
	cause := errors.New("disk full")
	env := errwrap.WrapInternal(context.Background(), cause, "write failed")

	fields, logged := exitFields(exitInfo{Code: 1, Name: "FAILURE"}, env)
	assert.ErrorIs(t, logged, cause)

	var keys []string
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, strings.Join(keys, ","), "error_code")
}
