// Package summary asks an LLM for an executive summary of a simulation run.
package summary

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/life4/genesis/slices"
	"github.com/mykhaliev/agent-sim/logger"
	"github.com/mykhaliev/agent-sim/model"
	"github.com/mykhaliev/agent-sim/report"
	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/googleai/vertex"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultMaxPromptTokens = 6000
	DefaultTimeout         = 90 * time.Second
	fallbackEncoding       = "cl100k_base"
)

// Result is the outcome of a summary request. Failures are carried here
// rather than returned so a summary can never fail the run.
type Result struct {
	Success  bool   `json:"success"`
	Analysis string `json:"analysis,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Summarizer builds the prompt and calls the model.
type Summarizer struct {
	llm       llms.Model
	modelName string
	maxTokens int
	count     func(string) int

	once     sync.Once
	encoding *tiktoken.Tiktoken
}

func NewSummarizer(llm llms.Model, modelName string, maxPromptTokens int) *Summarizer {
	if maxPromptTokens <= 0 {
		maxPromptTokens = DefaultMaxPromptTokens
	}
	s := &Summarizer{llm: llm, modelName: modelName, maxTokens: maxPromptTokens}
	s.count = s.tiktokenCount
	return s
}

// Generate requests the summary. The prompt lists failures first and drops
// passing results once the token budget is spent.
func (s *Summarizer) Generate(ctx context.Context, d report.Data) Result {
	if s.llm == nil {
		return Result{Error: "no model configured"}
	}

	prompt := s.BuildPrompt(d)
	logger.Logger.Debug("Requesting AI summary", "model", s.modelName, "prompt_tokens", s.count(prompt))

	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	resp, err := s.llm.GenerateContent(ctx, msgs)
	if err != nil {
		return Result{Error: fmt.Sprintf("summary request failed: %v", err)}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Result{Error: "summary response has no choices"}
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return Result{Error: "summary response is empty"}
	}
	return Result{Success: true, Analysis: text}
}

const systemPrompt = `You review end-to-end simulation runs of a multi-agent messaging system.
Write a short executive summary in markdown: overall health, failing phases and
agents with the likely cause, and concrete next steps. Do not restate every result.`

// BuildPrompt renders the run as plain text within the token budget.
func (s *Summarizer) BuildPrompt(d report.Data) string {
	sum := d.Summary()
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Suite: %s\n", d.Title))
	sb.WriteString(fmt.Sprintf("Messenger: %s\n", d.Messenger))
	sb.WriteString(fmt.Sprintf("Duration: %.2fs\n", d.Duration().Seconds()))
	sb.WriteString(fmt.Sprintf("Total: %d, passed: %d, failed: %d, success rate: %.1f%% (required %.1f%%)\n",
		sum.Total, sum.Passed, sum.Failed, sum.SuccessRate, d.Threshold))
	if d.Interrupted {
		sb.WriteString("The run was interrupted before all phases completed.\n")
	}
	sb.WriteString("\nPhases:\n")
	for _, p := range sum.Phases {
		sb.WriteString(fmt.Sprintf("- %s (%s): %d/%d passed\n", p.Title, p.Scope, p.Passed, p.Total))
	}

	failed := slices.Filter(d.Results, func(r model.TestResult) bool { return !r.Passed() })
	passed := slices.Filter(d.Results, func(r model.TestResult) bool { return r.Passed() })

	lines := make([]string, 0, len(d.Results)+2)
	if len(failed) > 0 {
		lines = append(lines, "\nFailed results:")
		lines = append(lines, slices.Map(failed, resultLine)...)
	}
	if len(passed) > 0 {
		lines = append(lines, "\nPassed results:")
		lines = append(lines, slices.Map(passed, resultLine)...)
	}

	used := s.count(sb.String())
	omitted := 0
	for i, line := range lines {
		cost := s.count(line + "\n")
		if used+cost > s.maxTokens {
			omitted = len(lines) - i
			break
		}
		sb.WriteString(line + "\n")
		used += cost
	}
	if omitted > 0 {
		sb.WriteString(fmt.Sprintf("(%d more lines omitted)\n", omitted))
	}
	return sb.String()
}

func resultLine(r model.TestResult) string {
	line := fmt.Sprintf("- [%s] %s / %s", r.Status, r.Phase, r.Test)
	if r.Details != "" {
		line += ": " + r.Details
	}
	return line
}

func (s *Summarizer) tiktokenCount(text string) int {
	s.once.Do(func() {
		tkm, err := tiktoken.EncodingForModel(s.modelName)
		if err != nil {
			tkm, err = tiktoken.GetEncoding(fallbackEncoding)
		}
		if err != nil {
			logger.Logger.Debug("Tiktoken encoding not available, falling back to simple estimation",
				"model", s.modelName, "error", err.Error())
			return
		}
		s.encoding = tkm
	})
	if s.encoding == nil {
		// Rough estimate: 4 characters per token
		return (len(text) + 3) / 4
	}
	return len(s.encoding.Encode(text, nil, nil))
}

// ============================================================================
// PROVIDERS
// ============================================================================

// FindProvider picks the judge provider by name, or the first configured one.
func FindProvider(providers []model.Provider, name string) (model.Provider, error) {
	if len(providers) == 0 {
		return model.Provider{}, fmt.Errorf("no providers configured")
	}
	if name == "" {
		return providers[0], nil
	}
	p, err := slices.Find(providers, func(p model.Provider) bool { return p.Name == name })
	if err != nil {
		return model.Provider{}, fmt.Errorf("judge provider %q not found", name)
	}
	return p, nil
}

// RenderProvider applies the template context to every provider field.
func RenderProvider(p model.Provider, templateCtx map[string]string) model.Provider {
	p.Name = model.RenderTemplate(p.Name, templateCtx)
	p.Token = model.RenderTemplate(p.Token, templateCtx)
	p.Secret = model.RenderTemplate(p.Secret, templateCtx)
	p.Model = model.RenderTemplate(p.Model, templateCtx)
	p.BaseURL = model.RenderTemplate(p.BaseURL, templateCtx)
	p.Version = model.RenderTemplate(p.Version, templateCtx)
	p.ProjectID = model.RenderTemplate(p.ProjectID, templateCtx)
	p.Location = model.RenderTemplate(p.Location, templateCtx)
	p.CredentialsPath = model.RenderTemplate(p.CredentialsPath, templateCtx)
	p.AuthType = model.RenderTemplate(p.AuthType, templateCtx)
	return p
}

func CreateProvider(ctx context.Context, p model.Provider) (llms.Model, error) {
	// Vertex and Azure Entra ID authenticate without a token
	isEntraIdAuth := p.Type == model.ProviderAzure && strings.ToLower(p.AuthType) == "entra_id"
	if p.Type != model.ProviderVertex && !isEntraIdAuth && p.Token == "" {
		return nil, fmt.Errorf("provider token is empty")
	}
	if p.Model == "" {
		return nil, fmt.Errorf("provider model is empty")
	}

	var llmModel llms.Model
	var err error

	switch p.Type {
	case model.ProviderGroq:
		baseURL := p.BaseURL
		if baseURL == "" {
			baseURL = "https://api.groq.com/openai/v1"
		}
		llmModel, err = openai.New(
			openai.WithToken(p.Token),
			openai.WithModel(p.Model),
			openai.WithBaseURL(baseURL),
		)
	case model.ProviderGoogle:
		llmModel, err = googleai.New(ctx,
			googleai.WithAPIKey(p.Token),
			googleai.WithDefaultModel(p.Model),
		)
	case model.ProviderVertex:
		llmModel, err = vertex.New(ctx,
			googleai.WithDefaultModel(p.Model),
			googleai.WithCloudProject(p.ProjectID),
			googleai.WithCloudLocation(p.Location),
			googleai.WithCredentialsFile(p.CredentialsPath),
		)
	case model.ProviderAnthropic:
		llmModel, err = anthropic.New(
			anthropic.WithModel(p.Model),
			anthropic.WithToken(p.Token),
		)
	case model.ProviderAmazonAnthropic:
		cfg, cfgErr := config.LoadDefaultConfig(ctx,
			config.WithRegion(p.Location),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(p.Token, p.Secret, "")),
		)
		if cfgErr != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", cfgErr)
		}
		llmModel, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(cfg)),
			bedrock.WithModel(p.Model),
		)
	case model.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(p.Token),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
			logger.Logger.Debug("Using custom base URL", "url", p.BaseURL)
		}
		llmModel, err = openai.New(opts...)
	case model.ProviderAzure:
		llmModel, err = createAzure(ctx, p)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", p.Type)
	}

	if err != nil {
		return nil, err
	}
	if llmModel == nil {
		return nil, fmt.Errorf("provider created but model is nil")
	}
	return llmModel, nil
}

func createAzure(ctx context.Context, p model.Provider) (llms.Model, error) {
	if p.Version == "" {
		return nil, fmt.Errorf("Azure provider requires version")
	}
	if p.BaseURL == "" {
		return nil, fmt.Errorf("Azure provider requires base URL")
	}

	opts := []openai.Option{
		openai.WithModel(p.Model),
		openai.WithAPIVersion(p.Version),
		openai.WithBaseURL(p.BaseURL),
	}

	if strings.ToLower(p.AuthType) == "entra_id" {
		logger.Logger.Debug("Using Entra ID authentication for Azure provider")
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
		token, err := cred.GetToken(ctx, policy.TokenRequestOptions{
			Scopes: []string{"https://cognitiveservices.azure.com/.default"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get Azure token: %w", err)
		}
		opts = append(opts, openai.WithAPIType(openai.APITypeAzureAD), openai.WithToken(token.Token))
	} else {
		if p.Token == "" {
			return nil, fmt.Errorf("Azure provider requires token when using api_key authentication")
		}
		opts = append(opts, openai.WithAPIType(openai.APITypeAzure), openai.WithToken(p.Token))
	}
	return openai.New(opts...)
}

// Run resolves the judge provider and generates the summary within the
// configured timeout. It never returns an error; failures land in Result.
func Run(ctx context.Context, cfg *model.SuiteConfiguration, templateCtx map[string]string, d report.Data) Result {
	p, err := FindProvider(cfg.Providers, cfg.AISummary.JudgeProvider)
	if err != nil {
		logger.Logger.Error("AI summary judge provider not available", "error", err)
		return Result{Error: err.Error()}
	}
	p = RenderProvider(p, templateCtx)

	llm, err := CreateProvider(ctx, p)
	if err != nil {
		logger.Logger.Error("Failed to initialize judge provider", "name", p.Name, "error", err)
		return Result{Error: fmt.Sprintf("failed to create provider '%s': %v", p.Name, err)}
	}

	timeout := DefaultTimeout
	if cfg.AISummary.Timeout != "" {
		if t, err := time.ParseDuration(cfg.AISummary.Timeout); err == nil && t > 0 {
			timeout = t
		} else {
			logger.Logger.Warn("Invalid AI summary timeout, using default", "timeout", cfg.AISummary.Timeout, "default", DefaultTimeout)
		}
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Logger.Info("Generating AI summary", "provider", p.Name, "model", p.Model)
	res := NewSummarizer(llm, p.Model, cfg.AISummary.MaxPromptTokens).Generate(sctx, d)
	if res.Success {
		logger.Logger.Info("AI summary completed successfully")
	} else {
		logger.Logger.Warn("AI summary failed", "error", res.Error)
	}
	return res
}
