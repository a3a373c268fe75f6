package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-sim/logger"
	"github.com/mykhaliev/agent-sim/messenger"
	"github.com/mykhaliev/agent-sim/model"
	"github.com/mykhaliev/agent-sim/report"
	"github.com/mykhaliev/agent-sim/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMessenger returns whatever the test configures.
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Send(ctx context.Context, msg *model.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func (m *MockMessenger) Name() string { return "mock" }

func (m *MockMessenger) Close() error { return nil }

// MockMessengerFactory for testing
type MockMessengerFactory struct {
	CreateFunc func(ctx context.Context, cfg model.MessengerConfig, agents []model.Agent) (messenger.Messenger, error)
	CallCount  int
	LastConfig model.MessengerConfig
}

func (f *MockMessengerFactory) New(ctx context.Context, cfg model.MessengerConfig, agents []model.Agent) (messenger.Messenger, error) {
	f.CallCount++
	f.LastConfig = cfg
	if f.CreateFunc != nil {
		return f.CreateFunc(ctx, cfg, agents)
	}
	return messenger.New(ctx, cfg, agents)
}

func useFactory(t *testing.T, f messenger.Factory) {
	t.Helper()
	SetMessengerFactory(f)
	t.Cleanup(func() { SetMessengerFactory(messenger.DefaultFactory{}) })
}

// delayRecorder replaces the runner's sleep.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *delayRecorder) sleep(ctx context.Context, dur time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dur > 0 {
		d.delays = append(d.delays, dur)
	}
	return ctx.Err()
}

func newTestRunner(t *testing.T, cfg *model.SuiteConfiguration, m messenger.Messenger) (*Runner, *bytes.Buffer, *delayRecorder) {
	t.Helper()
	var out bytes.Buffer
	r := NewRunner(cfg, m, &out, map[string]string{"RUN_ID": "run-1"})
	d := &delayRecorder{}
	r.sleep = d.sleep
	return r, &out, d
}

func TestRunner_DefaultSuite(t *testing.T) {
	cfg, err := suite.Default()
	require.NoError(t, err)
	mem := messenger.NewMemoryMessenger(cfg.Messenger.Memory, cfg.Agents)

	r, out, delays := newTestRunner(t, cfg, mem)
	data := r.Run(context.Background())

	require.Len(t, data.Results, 14+2+5+5+1)
	for _, res := range data.Results {
		assert.Equal(t, model.StatusPass, res.Status, res.Test)
	}
	assert.False(t, data.Interrupted)

	first := data.Results[0]
	assert.Equal(t, "Agent: finance_node", first.Test)
	assert.Equal(t, "individual", first.Phase)
	assert.Regexp(t, `^Message sent: [0-9a-f]{8}$`, first.Details)

	assert.Equal(t, "Finance to Analytics", data.Results[14].Test)
	assert.Equal(t, "Collaboration request sent", data.Results[14].Details)
	assert.Equal(t, "Workflow Step 1: data_collection_node", data.Results[16].Test)
	assert.Equal(t, "Workflow Step 5: content_node", data.Results[20].Test)
	assert.Equal(t, "Command Core to finance_node", data.Results[21].Test)
	assert.Equal(t, "Directive sent", data.Results[21].Details)

	stress := data.Results[len(data.Results)-1]
	assert.Equal(t, "Stress Test", stress.Test)
	assert.Equal(t, "20 messages sent successfully", stress.Details)

	// 14 individual, 1 collaboration (no pause after the last), 5 workflow, 5 orchestration
	assert.Len(t, delays.delays, 25)
	assert.Equal(t, 300*time.Millisecond, delays.delays[0])
	assert.Equal(t, 500*time.Millisecond, delays.delays[14])
	assert.Equal(t, 200*time.Millisecond, delays.delays[24])

	assert.Equal(t, 1+20, mem.Pending("quality_assurance_node"))
	history := mem.History()
	require.Len(t, history, 14+2+5+5+20)
	assert.Equal(t, map[string]any{"action": "generate_financial_summary", "period": "test"}, history[0].Payload)
	assert.Equal(t, model.PriorityHigh, history[0].Priority)
	assert.Equal(t, "simulation_suite", history[0].From)
	directive := history[21]
	assert.Equal(t, "command_core", directive.From)
	assert.Equal(t, model.MessageDirective, directive.Type)
	assert.Equal(t, model.PriorityCritical, directive.Priority)
	assert.Equal(t, "business_review_001", directive.Payload["workflow_id"])

	text := out.String()
	assert.Contains(t, text, "NULL MASTER SIMULATION SUITE")
	assert.Contains(t, text, "Started: ")
	assert.Contains(t, text, "PHASE 1: INDIVIDUAL AGENT TESTS")
	assert.Contains(t, text, "PHASE 5: STRESS TEST")
	assert.Contains(t, text, "[PASS] Agent: finance_node: PASS\n   Message sent: ")
}

func TestRunner_FailuresAreRecorded(t *testing.T) {
	cfg, err := model.ParseSuiteConfigFromString(`
name: failures
phases:
  - name: mixed
    title: Mixed
    label: "{{to}}"
    steps:
      - to: ok_node
      - to: broken_node
      - to: ok_node
`)
	require.NoError(t, err)

	m := &MockMessenger{}
	m.On("Send", mock.Anything, mock.MatchedBy(func(msg *model.Message) bool { return msg.To == "broken_node" })).
		Return("", errors.New("agent offline"))
	m.On("Send", mock.Anything, mock.Anything).Return("ack", nil)

	r, out, _ := newTestRunner(t, cfg, m)
	data := r.Run(context.Background())

	require.Len(t, data.Results, 3)
	assert.Equal(t, model.StatusPass, data.Results[0].Status)
	assert.Equal(t, model.StatusFail, data.Results[1].Status)
	assert.Equal(t, "agent offline", data.Results[1].Details)
	assert.Equal(t, model.StatusPass, data.Results[2].Status)
	assert.Contains(t, out.String(), "[FAIL] broken_node: FAIL\n   agent offline\n")
	m.AssertNumberOfCalls(t, "Send", 3)
}

func TestRunner_StopOnFailure(t *testing.T) {
	cfg, err := model.ParseSuiteConfigFromString(`
name: stop
settings:
  stop_on_failure: true
phases:
  - name: first
    title: First
    steps:
      - to: broken_node
      - to: ok_node
  - name: second
    title: Second
    steps:
      - to: ok_node
`)
	require.NoError(t, err)

	m := &MockMessenger{}
	m.On("Send", mock.Anything, mock.MatchedBy(func(msg *model.Message) bool { return msg.To == "broken_node" })).
		Return("", errors.New("down"))
	m.On("Send", mock.Anything, mock.Anything).Return("ack", nil)

	r, _, _ := newTestRunner(t, cfg, m)
	data := r.Run(context.Background())

	require.Len(t, data.Results, 2, "rest of the phase is skipped, next phase runs")
	assert.Equal(t, "first", data.Results[0].Phase)
	assert.Equal(t, "second", data.Results[1].Phase)
}

func TestRunner_BurstFailure(t *testing.T) {
	cfg, err := model.ParseSuiteConfigFromString(`
name: burst
phases:
  - name: stress
    title: Stress
    kind: burst
    repeat: 10
    label: Stress Test
    steps:
      - to: qa
`)
	require.NoError(t, err)

	mem := messenger.NewMemoryMessenger(model.MemoryConfig{MailboxSize: 4}, []model.Agent{{Name: "qa"}})
	r, _, _ := newTestRunner(t, cfg, mem)
	data := r.Run(context.Background())

	require.Len(t, data.Results, 1)
	res := data.Results[0]
	assert.Equal(t, model.StatusFail, res.Status)
	assert.Contains(t, res.Details, "4 of 10 messages sent")
	assert.Contains(t, res.Details, "mailbox full")
}

func TestRunner_Interrupted(t *testing.T) {
	cfg, err := model.ParseSuiteConfigFromString(`
name: interrupt
phases:
  - name: one
    title: One
    delay: 1s
    steps:
      - to: a
      - to: b
      - to: c
  - name: two
    title: Two
    steps:
      - to: a
`)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &MockMessenger{}
	m.On("Send", mock.Anything, mock.Anything).Return("ack", nil).Run(func(args mock.Arguments) {
		if args.Get(1).(*model.Message).To == "b" {
			cancel()
		}
	})

	r, _, _ := newTestRunner(t, cfg, m)
	data := r.Run(ctx)

	assert.True(t, data.Interrupted)
	require.Len(t, data.Results, 2)
	assert.Equal(t, "simulation_suite to b", data.Results[1].Test)
	m.AssertNumberOfCalls(t, "Send", 2)
}

func TestRunner_SendTimeout(t *testing.T) {
	cfg, err := model.ParseSuiteConfigFromString(`
name: timeout
settings:
  send_timeout: 20ms
phases:
  - name: slow
    title: Slow
    steps:
      - to: a
`)
	require.NoError(t, err)

	m := &MockMessenger{}
	m.On("Send", mock.Anything, mock.Anything).Return("", context.DeadlineExceeded).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	})

	r, _, _ := newTestRunner(t, cfg, m)
	assert.Equal(t, 20*time.Millisecond, r.sendTimeout)
	data := r.Run(context.Background())

	require.Len(t, data.Results, 1)
	assert.Equal(t, model.StatusFail, data.Results[0].Status)
	assert.False(t, data.Interrupted)
}

func TestRunner_PayloadTemplating(t *testing.T) {
	cfg, err := model.ParseSuiteConfigFromString(`
name: templated
phases:
  - name: t
    title: T
    from: command_core
    steps:
      - to: finance_node
        action: audit
        payload:
          run: "{{RUN_ID}}"
          target: "{{upper to}}"
          index: "{{index}}"
`)
	require.NoError(t, err)

	mem := messenger.NewMemoryMessenger(model.MemoryConfig{}, []model.Agent{{Name: "finance_node"}})
	r, _, _ := newTestRunner(t, cfg, mem)
	r.Run(context.Background())

	sent := mem.Drain("finance_node")
	require.Len(t, sent, 1)
	assert.Equal(t, map[string]any{
		"action": "audit",
		"run":    "run-1",
		"target": "FINANCE_NODE",
		"index":  "1",
	}, sent[0].Payload)
}

func TestRunner_PayloadKeepsSpecialCharacters(t *testing.T) {
	cfg, err := model.ParseSuiteConfigFromString(`
name: escaping
phases:
  - name: t
    title: T
    label: "{{company}} to {{to}}"
    steps:
      - to: research_node
        action: conduct_research
        payload:
          company: "{{company}}"
          query: "{{q}}"
`)
	require.NoError(t, err)

	mem := messenger.NewMemoryMessenger(model.MemoryConfig{}, []model.Agent{{Name: "research_node"}})
	var out bytes.Buffer
	r := NewRunner(cfg, mem, &out, map[string]string{
		"company": "Johnson & Sons",
		"q":       `x < 5 "quoted"`,
	})
	r.sleep = (&delayRecorder{}).sleep
	data := r.Run(context.Background())

	history := mem.History()
	require.Len(t, history, 1)
	assert.Equal(t, map[string]any{
		"action":  "conduct_research",
		"company": "Johnson & Sons",
		"query":   `x < 5 "quoted"`,
	}, history[0].Payload)
	require.Len(t, data.Results, 1)
	assert.Equal(t, "Johnson & Sons to research_node", data.Results[0].Test)
}

func TestRunner_FailedStepSkipsDelay(t *testing.T) {
	suiteYAML := `
name: delays
phases:
  - name: p
    title: P
    delay: 300ms
    pause_on_failure: %t
    steps:
      - to: broken_node
      - to: broken_node
      - to: ok_node
`
	tests := []struct {
		name           string
		pauseOnFailure bool
		want           []time.Duration
	}{
		{name: "failures move on", pauseOnFailure: false, want: []time.Duration{300 * time.Millisecond}},
		{name: "pause after failures", pauseOnFailure: true, want: []time.Duration{300 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := model.ParseSuiteConfigFromString(fmt.Sprintf(suiteYAML, tt.pauseOnFailure))
			require.NoError(t, err)

			m := &MockMessenger{}
			m.On("Send", mock.Anything, mock.MatchedBy(func(msg *model.Message) bool { return msg.To == "broken_node" })).
				Return("", errors.New("down"))
			m.On("Send", mock.Anything, mock.Anything).Return("ack", nil)

			r, _, delays := newTestRunner(t, cfg, m)
			data := r.Run(context.Background())

			require.Len(t, data.Results, 3)
			assert.Equal(t, tt.want, delays.delays)
		})
	}
}

func TestDefaultSuite_CollaborationPausesOnFailure(t *testing.T) {
	cfg, err := suite.Default()
	require.NoError(t, err)

	m := &MockMessenger{}
	m.On("Send", mock.Anything, mock.Anything).Return("", errors.New("gateway down"))

	r, _, delays := newTestRunner(t, cfg, m)
	data := r.Run(context.Background())

	for _, res := range data.Results {
		assert.Equal(t, model.StatusFail, res.Status, res.Test)
	}
	// only the collaboration pause survives, and not after its last step
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, delays.delays)
}

func TestRun_SuiteVerboseEnablesDebugLogging(t *testing.T) {
	prev := logger.Logger
	var logs bytes.Buffer
	logger.SetupLogger(&logs, false)
	t.Cleanup(func() {
		logger.Logger = prev
		logger.SetVerbose(false)
	})

	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(suitePath, []byte(`
name: verbose
settings:
  verbose: true
agents:
  - name: finance_node
phases:
  - name: p
    title: P
    steps:
      - to: finance_node
`), 0644))

	code := Run(context.Background(), Options{
		SuitePath:  suitePath,
		OutputPath: filepath.Join(dir, "report"),
		Out:        &bytes.Buffer{},
	})
	assert.Equal(t, 0, code)
	assert.True(t, logger.Verbose())
	assert.Contains(t, logs.String(), "Debug logging enabled by suite settings")
	assert.Contains(t, logs.String(), "Sending message")
}

func TestRun_VerboseOffByDefault(t *testing.T) {
	prev := logger.Logger
	var logs bytes.Buffer
	logger.SetupLogger(&logs, false)
	t.Cleanup(func() { logger.Logger = prev })

	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(suitePath, []byte(`
name: quiet
agents:
  - name: finance_node
phases:
  - name: p
    title: P
    steps:
      - to: finance_node
`), 0644))

	code := Run(context.Background(), Options{SuitePath: suitePath, OutputPath: filepath.Join(dir, "report"), Out: &bytes.Buffer{}})
	assert.Equal(t, 0, code)
	assert.False(t, logger.Verbose())
	assert.NotContains(t, logs.String(), "Sending message")
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(suitePath, []byte(`
name: e2e
title: E2E Suite
system_name: E2E
agents:
  - name: finance_node
  - name: analytics_node
phases:
  - name: individual
    title: Individual
    label: "Agent: {{to}}"
    steps:
      - to: finance_node
      - to: analytics_node
criteria:
  success_rate: "100"
`), 0644))

	var out bytes.Buffer
	base := filepath.Join(dir, "reports", "run")
	code := Run(context.Background(), Options{
		SuitePath:   suitePath,
		OutputPath:  base,
		ReportTypes: []string{"md", "json", "html"},
		Out:         &out,
	})
	assert.Equal(t, 0, code)

	md, err := os.ReadFile(base + ".md")
	require.NoError(t, err)
	assert.Contains(t, string(md), "# E2E SUITE REPORT")
	assert.Contains(t, string(md), "E2E SYSTEM FULLY OPERATIONAL!")

	raw, err := os.ReadFile(base + ".json")
	require.NoError(t, err)
	var doc report.JSONReport
	require.NoError(t, sonic.Unmarshal(raw, &doc))
	assert.Equal(t, "e2e", doc.Suite)
	assert.Equal(t, suitePath, doc.SourceFile)
	assert.NotEmpty(t, doc.RunID)
	assert.Equal(t, 2, doc.Summary.Passed)

	_, err = os.Stat(base + ".html")
	assert.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "SIMULATION COMPLETE - GENERATING REPORT")
	assert.Contains(t, text, "Report saved: "+base+".md")
}

func TestRun_ThresholdMissed(t *testing.T) {
	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(suitePath, []byte(`
name: partial
agents:
  - name: known
phases:
  - name: p
    title: P
    steps:
      - to: known
      - to: unknown
criteria:
  success_rate: "0.8"
`), 0644))

	var out bytes.Buffer
	code := Run(context.Background(), Options{
		SuitePath:  suitePath,
		OutputPath: filepath.Join(dir, "report"),
		Out:        &out,
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "Some issues detected - review failed tests")
	assert.Contains(t, out.String(), "unknown agent: unknown")
}

func TestRun_MessengerOverrideAndFactory(t *testing.T) {
	factory := &MockMessengerFactory{
		CreateFunc: func(ctx context.Context, cfg model.MessengerConfig, agents []model.Agent) (messenger.Messenger, error) {
			return nil, errors.New("gateway unreachable")
		},
	}
	useFactory(t, factory)

	t.Setenv("SIM_GATEWAY", "http://gateway.local")
	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.yml")
	require.NoError(t, os.WriteFile(suitePath, []byte(`
name: remote
messenger:
  type: memory
  http:
    base_url: "{{SIM_GATEWAY}}/v1"
phases:
  - name: p
    title: P
    steps:
      - to: a
`), 0644))

	code := Run(context.Background(), Options{SuitePath: suitePath, Messenger: "http", Out: &bytes.Buffer{}})
	assert.Equal(t, 1, code)
	assert.Equal(t, 1, factory.CallCount)
	assert.Equal(t, model.MessengerHTTP, factory.LastConfig.Type)
	assert.Equal(t, "http://gateway.local/v1", factory.LastConfig.HTTP.BaseURL)
}

func TestRun_InvalidInputs(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 1, Run(context.Background(), Options{ReportTypes: []string{"pdf"}, Out: &out}))
	assert.Equal(t, 1, Run(context.Background(), Options{SuitePath: filepath.Join(t.TempDir(), "missing.yaml"), Out: &out}))
	assert.Equal(t, 1, Run(context.Background(), Options{Messenger: "smoke-signal", Out: &out}))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	code := Run(ctx, Options{OutputPath: filepath.Join(dir, "report"), Out: &out})
	assert.Equal(t, 1, code)

	md, err := os.ReadFile(filepath.Join(dir, "report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "interrupted")
}

func TestValidateSuiteConfig(t *testing.T) {
	valid := func() *model.SuiteConfiguration {
		return &model.SuiteConfiguration{
			Agents: []model.Agent{{Name: "a"}},
			Phases: []model.Phase{{Name: "p", Steps: []model.Step{{To: "a"}}}},
		}
	}

	assert.NoError(t, ValidateSuiteConfig(valid()))
	assert.Error(t, ValidateSuiteConfig(nil))

	tests := []struct {
		name   string
		mutate func(c *model.SuiteConfiguration)
		want   string
	}{
		{"no phases", func(c *model.SuiteConfiguration) { c.Phases = nil }, "no phases"},
		{"bad messenger", func(c *model.SuiteConfiguration) { c.Messenger.Type = "fax" }, "unsupported messenger type"},
		{"duplicate agent", func(c *model.SuiteConfiguration) { c.Agents = append(c.Agents, model.Agent{Name: "a"}) }, "duplicate agent"},
		{"duplicate phase", func(c *model.SuiteConfiguration) { c.Phases = append(c.Phases, c.Phases[0]) }, "duplicate phase"},
		{"empty phase name", func(c *model.SuiteConfiguration) { c.Phases[0].Name = "" }, "empty name"},
		{"no steps", func(c *model.SuiteConfiguration) { c.Phases[0].Steps = nil }, "no steps"},
		{"burst repeat", func(c *model.SuiteConfiguration) { c.Phases[0].Kind = model.PhaseBurst }, "repeat must be greater than 0"},
		{"unknown kind", func(c *model.SuiteConfiguration) { c.Phases[0].Kind = "parallel" }, "unknown kind"},
		{"empty recipient", func(c *model.SuiteConfiguration) { c.Phases[0].Steps[0].To = "" }, "recipient is empty"},
		{"bad priority", func(c *model.SuiteConfiguration) { c.Phases[0].Steps[0].Priority = "urgent" }, "unknown priority"},
		{"bad type", func(c *model.SuiteConfiguration) { c.Phases[0].Type = "broadcast" }, "unknown message type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorContains(t, ValidateSuiteConfig(c), tt.want)
		})
	}
}

func TestValidateSuiteConfig_DefaultSuite(t *testing.T) {
	cfg, err := suite.Default()
	require.NoError(t, err)
	assert.NoError(t, ValidateSuiteConfig(cfg))
}

func TestValidateSuiteInputFile(t *testing.T) {
	dir := t.TempDir()
	assert.ErrorContains(t, ValidateSuiteInputFile(""), "empty")
	assert.ErrorContains(t, ValidateSuiteInputFile(filepath.Join(dir, "nope.yaml")), "does not exist")
	assert.ErrorContains(t, ValidateSuiteInputFile(dir), "directory")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	assert.ErrorContains(t, ValidateSuiteInputFile(empty), "file is empty")

	txt := filepath.Join(dir, "suite.txt")
	require.NoError(t, os.WriteFile(txt, []byte("name: x"), 0644))
	assert.ErrorContains(t, ValidateSuiteInputFile(txt), "unexpected file extension")

	ok := filepath.Join(dir, "suite.yml")
	require.NoError(t, os.WriteFile(ok, []byte("name: x"), 0644))
	assert.NoError(t, ValidateSuiteInputFile(ok))
}

func TestValidateReportTypes(t *testing.T) {
	assert.NoError(t, ValidateReportTypes([]string{"md", "json", "html"}))
	assert.ErrorContains(t, ValidateReportTypes([]string{"md", "xml"}), "unknown type xml")
}

func TestParseDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseDelay(""))
	assert.Equal(t, 300*time.Millisecond, ParseDelay("300ms"))
	assert.Equal(t, time.Duration(0), ParseDelay("soon"))
	assert.Equal(t, time.Duration(0), ParseDelay("-1s"))
}

func TestParseTimeout(t *testing.T) {
	assert.Equal(t, DefaultSendTimeout, ParseTimeout(""))
	assert.Equal(t, 5*time.Second, ParseTimeout("5s"))
	assert.Equal(t, DefaultSendTimeout, ParseTimeout("later"))
	assert.Equal(t, DefaultSendTimeout, ParseTimeout("0s"))
}

func TestCreateStaticTemplateContext(t *testing.T) {
	t.Setenv("SIM_REGION", "eu")
	dir := t.TempDir()
	ctx := CreateStaticTemplateContext(filepath.Join(dir, "suite.yaml"), map[string]string{
		"GATEWAY": "https://{{SIM_REGION}}.example.com",
	})

	assert.Equal(t, "eu", ctx["SIM_REGION"])
	assert.Equal(t, "https://eu.example.com", ctx["GATEWAY"])
	assert.Len(t, ctx["RUN_ID"], 36)
	assert.Equal(t, os.TempDir(), ctx["TEMP_DIR"])
	assert.Equal(t, dir, ctx["SUITE_DIR"])

	other := CreateStaticTemplateContext("", nil)
	assert.NotEqual(t, ctx["RUN_ID"], other["RUN_ID"])
	assert.NotEmpty(t, other["SUITE_DIR"])
}

func TestRenderMessengerConfig(t *testing.T) {
	ctx := map[string]string{"HOST": "redis.local", "TOKEN": "t-1"}
	cfg := RenderMessengerConfig(model.MessengerConfig{
		Redis: model.RedisConfig{Addr: "{{HOST}}:6379"},
		HTTP:  model.HTTPConfig{Headers: []string{"Authorization: Bearer {{TOKEN}}"}},
		MCP:   model.MCPConfig{Command: "gateway --host {{HOST}}"},
	}, ctx)

	assert.Equal(t, "redis.local:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"Authorization: Bearer t-1"}, cfg.HTTP.Headers)
	assert.Equal(t, "gateway --host redis.local", cfg.MCP.Command)
	assert.Nil(t, cfg.MCP.Headers)
}

func TestExitCode(t *testing.T) {
	pass := model.TestResult{Status: model.StatusPass}
	fail := model.TestResult{Status: model.StatusFail}

	assert.Equal(t, 1, ExitCode(report.Data{Threshold: 80}), "no results")
	assert.Equal(t, 0, ExitCode(report.Data{Threshold: 80, Results: []model.TestResult{pass, pass, pass, pass, fail}}))
	assert.Equal(t, 1, ExitCode(report.Data{Threshold: 90, Results: []model.TestResult{pass, pass, pass, pass, fail}}))
	assert.Equal(t, 1, ExitCode(report.Data{Threshold: 0, Interrupted: true, Results: []model.TestResult{pass}}))
}

func TestGenerateReports_DefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	var out bytes.Buffer
	d := report.Data{Title: "T", ReportTitle: "T REPORT", Results: []model.TestResult{{Test: "x", Status: model.StatusPass}}}
	require.NoError(t, GenerateReports(&out, d, []string{"md"}, ""))

	_, err := os.Stat(filepath.Join(dir, DefaultReportFile+".md"))
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "# T REPORT"))
}
