package context

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/corelayer/agentcore/pkg/models"
)

// OverflowStrategy selects how Manager.Prepare reacts once the context
// window crosses ThresholdRatio.
type OverflowStrategy string

const (
	// OverflowTruncate drops the oldest messages by re-packing with a
	// tighter char budget (TargetRatio * CharWindow). Cheapest option,
	// loses history outright.
	OverflowTruncate OverflowStrategy = "truncate"

	// OverflowSlidingWindow runs the existing tool-result pruning pass
	// (soft trim, then hard clear) before packing. Keeps message shape,
	// shrinks tool output bulk.
	OverflowSlidingWindow OverflowStrategy = "sliding-window"

	// OverflowSummarize replaces older messages with an LLM-generated
	// summary message via Summarizer. Requires a configured
	// SummaryProvider; falls back to OverflowSlidingWindow if none is set.
	OverflowSummarize OverflowStrategy = "summarize"

	// OverflowHybrid prunes first, and only summarizes if pruning alone
	// didn't bring usage back under ThresholdRatio.
	OverflowHybrid OverflowStrategy = "hybrid"
)

// ManagerConfig configures the unified context-preparation gate.
type ManagerConfig struct {
	// CharWindow is the context budget in characters (a cheap proxy for
	// the model's token window, consistent with packer.go/pruning.go).
	CharWindow int

	// ThresholdRatio is the usage fraction (current chars / CharWindow)
	// above which Prepare takes overflow action. Below it, Prepare just
	// packs normally.
	ThresholdRatio float64

	// TargetRatio is the usage fraction OverflowTruncate re-packs down to.
	TargetRatio float64

	OverflowStrategy OverflowStrategy

	Pack          PackOptions
	Pruning       ContextPruningSettings
	Summarization SummarizationConfig
}

// DefaultManagerConfig returns defaults consistent with the existing
// packer/pruning/summarize defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CharWindow:       DefaultPackOptions().MaxChars,
		ThresholdRatio:   0.8,
		TargetRatio:      0.5,
		OverflowStrategy: OverflowHybrid,
		Pack:             DefaultPackOptions(),
		Pruning:          DefaultContextPruningSettings(),
		Summarization:    DefaultSummarizationConfig(),
	}
}

// CompactBoundary marks a point in a session's history where Manager
// dropped, trimmed, or summarized content. It's attached to the summary
// or placeholder message it produced (via metadata) so a transcript viewer
// can render "--- context compacted here ---".
type CompactBoundary struct {
	ID                  string
	Reason              OverflowStrategy
	UsageRatioBefore    float64
	DroppedMessageCount int
	CreatedAt           time.Time
}

// Message renders the boundary as a synthetic system message suitable for
// appending to a session's persisted chain. Token estimation for the next
// turn should only walk messages from this point forward (§4.3).
func (b *CompactBoundary) Message(sessionID string) *models.Message {
	return &models.Message{
		ID:        b.ID,
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   fmt.Sprintf("--- context compacted (%s, %d messages dropped) ---", b.Reason, b.DroppedMessageCount),
		Metadata: map[string]any{
			CompactBoundaryMetadataKey: true,
			CompactBoundaryIDKey:       b.ID,
		},
		CreatedAt: b.CreatedAt,
	}
}

// PreparedContext is the result of Manager.Prepare: the messages to send
// to the provider, plus bookkeeping about what Prepare did to get there.
type PreparedContext struct {
	Messages []*models.Message

	// Diagnostics carries the packer's budget/drop accounting for the
	// returned Messages, suitable for an EventEmitter.ContextPacked call.
	Diagnostics *models.ContextEventPayload

	// Summary is set when Prepare generated a new summary message this
	// call (the caller should persist it as the session's current summary).
	Summary *models.Message

	// Boundary is non-nil when overflow handling actually ran. BoundaryMsg
	// is Boundary.Message(sessionID), precomputed for the caller to persist.
	Boundary    *CompactBoundary
	BoundaryMsg *models.Message

	UsageRatioBefore float64
}

// Manager composes Packer, PruneContextMessages, and Summarizer behind a
// single gate so callers don't have to decide which mechanism to invoke and
// in what order.
type Manager struct {
	config     ManagerConfig
	packer     *Packer
	summarizer *Summarizer // nil disables OverflowSummarize/OverflowHybrid's summarize step
}

// NewManager creates a Manager. provider may be nil; OverflowSummarize then
// behaves as OverflowSlidingWindow and OverflowHybrid skips its summarize step.
func NewManager(config ManagerConfig, provider SummaryProvider) *Manager {
	if config.CharWindow <= 0 {
		config.CharWindow = DefaultPackOptions().MaxChars
	}
	if config.ThresholdRatio <= 0 {
		config.ThresholdRatio = 0.8
	}
	if config.TargetRatio <= 0 {
		config.TargetRatio = 0.5
	}
	if config.OverflowStrategy == "" {
		config.OverflowStrategy = OverflowHybrid
	}

	m := &Manager{
		config: config,
		packer: NewPacker(config.Pack),
	}
	if provider != nil {
		m.summarizer = NewSummarizer(provider, config.Summarization)
	}
	return m
}

// Prepare is the single entry point: given full history, the incoming
// message, and the session's current summary (if any), it returns the
// message slice ready to send to the provider.
func (m *Manager) Prepare(ctx context.Context, sessionID string, history []*models.Message, incoming *models.Message, currentSummary *models.Message) (*PreparedContext, error) {
	usage := m.usageRatio(history, incoming)

	if usage < m.config.ThresholdRatio {
		packResult := m.packer.PackWithDiagnostics(history, incoming, currentSummary)
		return &PreparedContext{
			Messages:         packResult.Messages,
			Diagnostics:      packResult.Diagnostics,
			UsageRatioBefore: usage,
		}, nil
	}

	result := &PreparedContext{UsageRatioBefore: usage}
	workingHistory := history
	workingSummary := currentSummary

	strategy := m.config.OverflowStrategy

	if strategy == OverflowSlidingWindow || strategy == OverflowHybrid {
		workingHistory = PruneContextMessages(workingHistory, m.config.Pruning, m.config.CharWindow)
	}

	if strategy == OverflowSummarize || (strategy == OverflowHybrid && m.usageRatio(workingHistory, incoming) >= m.config.ThresholdRatio) {
		if m.summarizer != nil {
			summaryMsg, err := m.summarizer.Summarize(ctx, sessionID, workingHistory, workingSummary)
			if err != nil {
				return nil, err
			}
			if summaryMsg != nil {
				result.Summary = summaryMsg
				workingSummary = summaryMsg
				workingHistory = MessagesSinceSummary(workingHistory, summaryMsg)
			}
		}
	}

	charWindow := m.config.CharWindow
	packOpts := m.config.Pack
	if strategy == OverflowTruncate {
		packOpts.MaxChars = int(float64(charWindow) * m.config.TargetRatio)
	}
	packer := m.packer
	if packOpts != m.config.Pack {
		packer = NewPacker(packOpts)
	}

	packResult := packer.PackWithDiagnostics(workingHistory, incoming, workingSummary)
	packed := packResult.Messages

	survived := len(packed)
	if result.Summary != nil {
		survived--
	}
	if incoming != nil {
		survived--
	}
	dropped := len(history) - survived
	if dropped < 0 {
		dropped = 0
	}

	result.Messages = packed
	result.Diagnostics = packResult.Diagnostics
	result.Boundary = &CompactBoundary{
		ID:                  uuid.NewString(),
		Reason:              strategy,
		UsageRatioBefore:    usage,
		DroppedMessageCount: dropped,
		CreatedAt:           time.Now(),
	}
	result.BoundaryMsg = result.Boundary.Message(sessionID)

	return result, nil
}

func (m *Manager) usageRatio(history []*models.Message, incoming *models.Message) float64 {
	total := estimateContextChars(history)
	if incoming != nil {
		total += estimateMessageChars(incoming)
	}
	if m.config.CharWindow <= 0 {
		return 0
	}
	return float64(total) / float64(m.config.CharWindow)
}
