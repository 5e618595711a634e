package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/config"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/services/upstream"
	"github.com/muoit/CLIProxyAPI-Monitor/pkg/logger"
)

// InsightsService asks the monitored proxy's own OpenAI-compatible endpoint
// for a natural-language read of the usage numbers. It reuses the overview
// aggregation, so the LLM only ever sees aggregated stats, never raw events.
type InsightsService struct {
	overview *OverviewService
	client   *openai.Client
	model    string
	enabled  bool
}

func NewInsightsService(overview *OverviewService, cfg *config.Config) *InsightsService {
	clientConfig := openai.DefaultConfig(cfg.Insights.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.Upstream.BaseURL, "/") + "/v1"

	return &InsightsService{
		overview: overview,
		client:   openai.NewClientWithConfig(clientConfig),
		model:    cfg.Insights.Model,
		enabled:  cfg.Insights.Enabled,
	}
}

// Enabled reports whether the feature was turned on in config.
func (s *InsightsService) Enabled() bool {
	return s.enabled
}

// InsightSummary is the generated report plus the digest it was built from,
// so the UI can show the raw numbers next to the narrative.
type InsightSummary struct {
	Days    int    `json:"days"`
	Digest  string `json:"digest"`
	Summary string `json:"summary"`
	Model   string `json:"model"`
}

// Summarize computes the overview for the window and asks the LLM for a
// short summary. Nothing is cached or persisted; every call is a fresh read.
func (s *InsightsService) Summarize(ctx context.Context, days int) (*InsightSummary, error) {
	resp, err := s.overview.ComputeOverview(ctx, OverviewQuery{Days: days})
	if err != nil {
		return nil, err
	}

	digest := buildUsageDigest(resp)

	prompt := fmt.Sprintf(`You are an analytics assistant for an LLM API proxy dashboard.
Below is a usage digest covering the last %d day(s). Write a short plain-text
summary (at most 150 words): overall volume, success rate, the dominant
models, notable day-over-day changes, and estimated cost. No markdown, no
bullet points, no preamble.

%s`, resp.Days, digest)

	chatResp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0.3,
	})
	if err != nil {
		logger.Errorf("[Insights] Chat completion failed: %v", err)
		return nil, fmt.Errorf("%w: insights completion: %v", upstream.ErrUpstream, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: insights completion returned no choices", upstream.ErrUpstream)
	}

	return &InsightSummary{
		Days:    resp.Days,
		Digest:  digest,
		Summary: strings.TrimSpace(chatResp.Choices[0].Message.Content),
		Model:   s.model,
	}, nil
}

// buildUsageDigest renders the overview as a compact plain-text block. Kept
// separate from Summarize so it can be tested without an LLM endpoint.
func buildUsageDigest(resp *OverviewResponse) string {
	var sb strings.Builder

	o := resp.Overview
	fmt.Fprintf(&sb, "window_days: %d\n", resp.Days)
	fmt.Fprintf(&sb, "total_requests: %d\n", o.TotalRequests)
	fmt.Fprintf(&sb, "total_tokens: %d (input %d, output %d, reasoning %d, cached %d)\n",
		o.TotalTokens, o.TotalInputTokens, o.TotalOutputTokens, o.TotalReasoningTokens, o.TotalCachedTokens)
	fmt.Fprintf(&sb, "success_rate: %.4f (%d ok / %d failed)\n", o.SuccessRate, o.SuccessCount, o.FailureCount)
	fmt.Fprintf(&sb, "estimated_cost_usd: %.4f\n", o.TotalCost)

	if len(o.Models) > 0 {
		sb.WriteString("top_models:\n")
		limit := len(o.Models)
		if limit > 5 {
			limit = 5
		}
		for _, m := range o.Models[:limit] {
			fmt.Fprintf(&sb, "  %s: %d requests, %d tokens, cost %.4f\n",
				m.Model, m.TotalRequests, m.TotalTokens, m.Cost)
		}
	}

	if len(o.ByDay) > 0 {
		sb.WriteString("daily_requests:\n")
		for _, d := range o.ByDay {
			fmt.Fprintf(&sb, "  %s: %d requests, %d tokens\n", d.Date, d.TotalRequests, d.TotalTokens)
		}
	}

	return sb.String()
}
