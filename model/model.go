package model

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aymerick/raymond"
	"github.com/mykhaliev/agent-sim/logger"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSuccessRate = 80.0
	DefaultSender      = "simulation_suite"
)

// ============================================================================
// SUITE CONFIGURATION
// ============================================================================

type SuiteConfiguration struct {
	Name        string            `yaml:"name"`
	Title       string            `yaml:"title,omitempty"`
	ReportTitle string            `yaml:"report_title,omitempty"`
	SystemName  string            `yaml:"system_name,omitempty"`
	Settings    Settings          `yaml:"settings"`
	Messenger   MessengerConfig   `yaml:"messenger"`
	Agents      []Agent           `yaml:"agents"`
	Phases      []Phase           `yaml:"phases"`
	Variables   map[string]string `yaml:"variables,omitempty"`
	Criteria    Criteria          `yaml:"criteria"`
	Providers   []Provider        `yaml:"providers,omitempty"`
	AISummary   AISummary         `yaml:"ai_summary,omitempty"`
}

// AgentNames returns the configured agent names in declaration order.
func (c *SuiteConfiguration) AgentNames() []string {
	names := make([]string, 0, len(c.Agents))
	for _, a := range c.Agents {
		names = append(names, a.Name)
	}
	return names
}

// DisplayTitle is the heading used in banners and reports.
func (c *SuiteConfiguration) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	if c.Name != "" {
		return c.Name
	}
	return "Simulation Suite"
}

// DisplayReportTitle is the first heading of generated reports.
func (c *SuiteConfiguration) DisplayReportTitle() string {
	if c.ReportTitle != "" {
		return c.ReportTitle
	}
	return strings.ToUpper(c.DisplayTitle()) + " REPORT"
}

type Settings struct {
	Verbose       bool   `yaml:"verbose"`
	StepDelay     string `yaml:"step_delay"`
	PhaseDelay    string `yaml:"phase_delay"`
	SendTimeout   string `yaml:"send_timeout"`
	StopOnFailure bool   `yaml:"stop_on_failure"`
}

type Criteria struct {
	SuccessRate string `yaml:"success_rate" json:"successRate"`
}

// Threshold returns the success-rate criterion as a percentage.
// Values in (0, 1] are read as fractions, so "0.8" and "80" are equivalent.
func (c Criteria) Threshold() (float64, error) {
	raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(c.SuccessRate), "%"))
	if raw == "" {
		return DefaultSuccessRate, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid success rate %q: %w", c.SuccessRate, err)
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("success rate out of range: %v", v)
	}
	if v > 0 && v <= 1 {
		v *= 100
	}
	return v, nil
}

// ============================================================================
// AGENTS
// ============================================================================

type Agent struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Endpoint overrides the HTTP path used to reach this agent.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// ============================================================================
// MESSENGER CONFIGURATION
// ============================================================================

type MessengerType string

const (
	MessengerMemory MessengerType = "memory"
	MessengerRedis  MessengerType = "redis"
	MessengerHTTP   MessengerType = "http"
	MessengerMCP    MessengerType = "mcp"
)

type MessengerConfig struct {
	Type       MessengerType   `yaml:"type"`
	Memory     MemoryConfig    `yaml:"memory,omitempty"`
	Redis      RedisConfig     `yaml:"redis,omitempty"`
	HTTP       HTTPConfig      `yaml:"http,omitempty"`
	MCP        MCPConfig       `yaml:"mcp,omitempty"`
	RateLimits RateLimitConfig `yaml:"rate_limits,omitempty"`
	Retry      RetryConfig     `yaml:"retry,omitempty"`
}

type MemoryConfig struct {
	MailboxSize  int  `yaml:"mailbox_size,omitempty"`
	AllowUnknown bool `yaml:"allow_unknown,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	MaxLen   int64  `yaml:"max_len,omitempty"`
}

type HTTPConfig struct {
	BaseURL string   `yaml:"base_url"`
	Headers []string `yaml:"headers,omitempty"`
	// AckPath is a JSONPath into the response body locating the delivered message id.
	AckPath string `yaml:"ack_path,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
}

type ServerType string

const (
	Stdio ServerType = "stdio"
	SSE   ServerType = "sse"
	Http  ServerType = "http"
)

type MCPConfig struct {
	Transport    ServerType `yaml:"transport"`
	Command      string     `yaml:"command,omitempty"`
	URL          string     `yaml:"url,omitempty"`
	Headers      []string   `yaml:"headers,omitempty"`
	Tool         string     `yaml:"tool,omitempty"`
	ServerDelay  string     `yaml:"server_delay,omitempty"`
	ProcessDelay string     `yaml:"process_delay,omitempty"`
}

// RateLimitConfig throttles sends before they reach the transport.
type RateLimitConfig struct {
	RPM int `yaml:"rpm"`
}

// RetryConfig controls retries when the transport reports it is busy.
type RetryConfig struct {
	RetryOnBusy bool `yaml:"retry_on_busy"`
	MaxRetries  int  `yaml:"max_retries"`
}

// ============================================================================
// PHASES
// ============================================================================

type PhaseKind string

const (
	PhaseSequence PhaseKind = "sequence"
	PhaseBurst    PhaseKind = "burst"
)

type Phase struct {
	Name        string    `yaml:"name"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description,omitempty"`
	Scope       string    `yaml:"scope,omitempty"`
	Kind        PhaseKind `yaml:"kind,omitempty"`
	// Step defaults
	From     string      `yaml:"from,omitempty"`
	Type     MessageType `yaml:"type,omitempty"`
	Priority Priority    `yaml:"priority,omitempty"`
	Delay    string      `yaml:"delay,omitempty"`
	Label    string      `yaml:"label,omitempty"`
	Details  string      `yaml:"details,omitempty"`
	// SkipLastDelay suppresses the pause after the final step.
	SkipLastDelay bool `yaml:"skip_last_delay,omitempty"`
	// PauseOnFailure keeps the step delay after a failed send. Otherwise a
	// failed step moves straight to the next one.
	PauseOnFailure bool `yaml:"pause_on_failure,omitempty"`
	// Repeat is the number of rounds a burst phase sends.
	Repeat int    `yaml:"repeat,omitempty"`
	Steps  []Step `yaml:"steps"`
}

// EffectiveKind treats an empty kind as a sequence.
func (p Phase) EffectiveKind() PhaseKind {
	if p.Kind == "" {
		return PhaseSequence
	}
	return p.Kind
}

// ScopeText describes how much the phase covers, e.g. "14 agents".
func (p Phase) ScopeText() string {
	if p.Scope != "" {
		return p.Scope
	}
	if p.EffectiveKind() == PhaseBurst {
		return fmt.Sprintf("%d messages", p.Repeat*len(p.Steps))
	}
	return fmt.Sprintf("%d steps", len(p.Steps))
}

type Step struct {
	Label    string         `yaml:"label,omitempty"`
	From     string         `yaml:"from,omitempty"`
	To       string         `yaml:"to"`
	Type     MessageType    `yaml:"type,omitempty"`
	Action   string         `yaml:"action,omitempty"`
	Priority Priority       `yaml:"priority,omitempty"`
	Payload  map[string]any `yaml:"payload,omitempty"`
	Delay    string         `yaml:"delay,omitempty"`
	Details  string         `yaml:"details,omitempty"`
}

// Resolve fills empty step fields from the phase defaults.
func (s Step) Resolve(p Phase) Step {
	if s.From == "" {
		s.From = p.From
	}
	if s.From == "" {
		s.From = DefaultSender
	}
	if s.Type == "" {
		s.Type = p.Type
	}
	if s.Type == "" {
		s.Type = MessageRequest
	}
	if s.Priority == "" {
		s.Priority = p.Priority
	}
	if s.Priority == "" {
		s.Priority = PriorityMedium
	}
	if s.Delay == "" {
		s.Delay = p.Delay
	}
	if s.Label == "" {
		s.Label = p.Label
	}
	if s.Label == "" {
		s.Label = "{{from}} to {{to}}"
	}
	if s.Details == "" {
		s.Details = p.Details
	}
	return s
}

// BuildPayload merges the action into the payload. An explicit "action" key in
// the payload overrides the step action.
func (s Step) BuildPayload() map[string]any {
	out := make(map[string]any, len(s.Payload)+1)
	if s.Action != "" {
		out["action"] = s.Action
	}
	for k, v := range s.Payload {
		out[k] = v
	}
	return out
}

// ============================================================================
// MESSAGES
// ============================================================================

type MessageType string

const (
	MessageRequest      MessageType = "request"
	MessageDirective    MessageType = "directive"
	MessageResponse     MessageType = "response"
	MessageNotification MessageType = "notification"
)

func (t MessageType) IsValid() bool {
	switch t {
	case MessageRequest, MessageDirective, MessageResponse, MessageNotification:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Weight orders priorities; unknown priorities weigh zero.
func (p Priority) Weight() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

func (p Priority) IsValid() bool {
	return p.Weight() > 0
}

type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from_agent"`
	To        string         `json:"to_agent"`
	Type      MessageType    `json:"message_type"`
	Priority  Priority       `json:"priority"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// ShortID returns the first eight characters of the id.
func (m *Message) ShortID() string {
	return ShortID(m.ID)
}

func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// ============================================================================
// RESULTS
// ============================================================================

type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

type TestResult struct {
	Test      string    `json:"test"`
	Status    Status    `json:"status"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase,omitempty"`
}

func (r TestResult) Passed() bool {
	return r.Status == StatusPass
}

// ============================================================================
// PROVIDERS (AI summary)
// ============================================================================

type ProviderType string

const (
	ProviderGroq            ProviderType = "GROQ"
	ProviderGoogle          ProviderType = "GOOGLE"
	ProviderVertex          ProviderType = "VERTEX"
	ProviderAnthropic       ProviderType = "ANTHROPIC"
	ProviderAmazonAnthropic ProviderType = "AMAZON-ANTHROPIC"
	ProviderOpenAI          ProviderType = "OPENAI"
	ProviderAzure           ProviderType = "AZURE"
)

type Provider struct {
	Name            string       `yaml:"name"`
	Type            ProviderType `yaml:"type"`
	Token           string       `yaml:"token"`
	Secret          string       `yaml:"secret"`
	Model           string       `yaml:"model"`
	BaseURL         string       `yaml:"baseUrl"`
	Version         string       `yaml:"version"`
	ProjectID       string       `yaml:"project_id"`
	Location        string       `yaml:"location"`
	CredentialsPath string       `yaml:"credentials_path"`
	AuthType        string       `yaml:"auth_type"` // AZURE: "api_key" (default) or "entra_id"
}

// AISummary configures an LLM-written executive summary of the run.
type AISummary struct {
	Enabled         bool   `yaml:"enabled"`
	JudgeProvider   string `yaml:"judge_provider,omitempty"`
	MaxPromptTokens int    `yaml:"max_prompt_tokens,omitempty"`
	Timeout         string `yaml:"timeout,omitempty"`
}

// ============================================================================
// YAML PARSER
// ============================================================================

func ParseSuiteConfig(filename string) (*SuiteConfiguration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseSuiteConfigFromBytes(data)
}

func ParseSuiteConfigFromString(definition string) (*SuiteConfiguration, error) {
	return ParseSuiteConfigFromBytes([]byte(definition))
}

func ParseSuiteConfigFromBytes(data []byte) (*SuiteConfiguration, error) {
	var suite SuiteConfiguration
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return &suite, nil
}

// ============================================================================
// TEMPLATE CONTEXT
// ============================================================================

func GetAllEnv() map[string]string {
	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}
	return envMap
}

// MergeVariables returns a new map; keys in primary override secondary.
func MergeVariables(primary, secondary map[string]string) map[string]string {
	merged := make(map[string]string, len(primary)+len(secondary))
	for k, v := range secondary {
		merged[k] = v
	}
	for k, v := range primary {
		merged[k] = v
	}
	return merged
}

// RenderTemplate parses and executes a Raymond template. Values are inserted
// verbatim, without HTML escaping.
// If parsing or execution fails, it returns the input string unchanged.
func RenderTemplate(input string, context map[string]string) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	tmpl, err := raymond.Parse(input)
	if err != nil {
		logger.Logger.Warn("Failed to parse template", "error", err)
		return input
	}

	safe := make(map[string]any, len(context))
	for k, v := range context {
		safe[k] = raymond.SafeString(v)
	}

	output, err := tmpl.Exec(safe)
	if err != nil {
		logger.Logger.Warn("Failed to execute template", "error", err)
		return input
	}

	return output
}
