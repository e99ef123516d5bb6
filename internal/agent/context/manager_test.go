package context

import (
	"context"
	"strings"
	"testing"

	"github.com/corelayer/agentcore/pkg/models"
)

type fakeSummaryProvider struct {
	summary string
}

func (f *fakeSummaryProvider) Summarize(ctx context.Context, messages []*models.Message, maxLength int) (string, error) {
	return f.summary, nil
}

func longMessage(role models.Role, n int) *models.Message {
	return &models.Message{Role: role, Content: strings.Repeat("x", n)}
}

func TestManager_BelowThreshold_PacksWithoutBoundary(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.CharWindow = 1000
	cfg.ThresholdRatio = 0.8

	m := NewManager(cfg, nil)
	history := []*models.Message{longMessage(models.RoleUser, 10)}
	incoming := longMessage(models.RoleUser, 10)

	out, err := m.Prepare(context.Background(), "s1", history, incoming, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if out.Boundary != nil {
		t.Errorf("expected no boundary below threshold")
	}
	if len(out.Messages) != 2 {
		t.Errorf("expected both messages packed, got %d", len(out.Messages))
	}
}

func TestManager_AboveThreshold_TruncateShrinksToTargetRatio(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.CharWindow = 1000
	cfg.ThresholdRatio = 0.5
	cfg.TargetRatio = 0.2
	cfg.OverflowStrategy = OverflowTruncate
	cfg.Pack.MaxMessages = 100

	m := NewManager(cfg, nil)

	var history []*models.Message
	for i := 0; i < 20; i++ {
		history = append(history, longMessage(models.RoleUser, 50))
	}

	out, err := m.Prepare(context.Background(), "s1", history, nil, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if out.Boundary == nil {
		t.Fatalf("expected boundary once over threshold")
	}
	if out.Boundary.Reason != OverflowTruncate {
		t.Errorf("boundary reason = %q, want truncate", out.Boundary.Reason)
	}

	var packedChars int
	for _, msg := range out.Messages {
		packedChars += len(msg.Content)
	}
	wantBudget := int(float64(cfg.CharWindow) * cfg.TargetRatio)
	if packedChars > wantBudget {
		t.Errorf("packed chars = %d, want <= target budget %d", packedChars, wantBudget)
	}
	if len(out.Messages) >= len(history) {
		t.Errorf("expected some messages dropped, got %d of %d", len(out.Messages), len(history))
	}
}

func TestManager_Summarize_ReplacesOlderHistoryWithSummary(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.CharWindow = 100
	cfg.ThresholdRatio = 0.1
	cfg.OverflowStrategy = OverflowSummarize
	cfg.Summarization.MaxMsgsBeforeSummary = 1
	cfg.Summarization.KeepRecentMessages = 1

	provider := &fakeSummaryProvider{summary: "the gist of it"}
	m := NewManager(cfg, provider)

	history := []*models.Message{
		{ID: "m1", Role: models.RoleUser, Content: "first"},
		{ID: "m2", Role: models.RoleAssistant, Content: "second"},
		{ID: "m3", Role: models.RoleUser, Content: "third"},
	}

	out, err := m.Prepare(context.Background(), "s1", history, nil, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if out.Summary == nil {
		t.Fatalf("expected a summary message to be produced")
	}
	if out.Summary.Content != "the gist of it" {
		t.Errorf("summary content = %q", out.Summary.Content)
	}

	found := false
	for _, msg := range out.Messages {
		if msg.Content == "the gist of it" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected packed messages to include the summary, got %+v", out.Messages)
	}
}

func TestManager_NoSummaryProvider_HybridFallsBackToSlidingWindow(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.CharWindow = 100
	cfg.ThresholdRatio = 0.1
	cfg.OverflowStrategy = OverflowHybrid

	m := NewManager(cfg, nil) // no provider

	history := []*models.Message{longMessage(models.RoleUser, 200)}
	out, err := m.Prepare(context.Background(), "s1", history, nil, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if out.Summary != nil {
		t.Errorf("expected no summary without a configured provider")
	}
	if out.Boundary == nil {
		t.Errorf("expected a boundary since usage stayed above threshold")
	}
}
