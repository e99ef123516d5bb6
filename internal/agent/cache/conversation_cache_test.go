package cache

import (
	"testing"
	"time"

	"github.com/corelayer/agentcore/pkg/models"
)

func msg(role models.Role, content string) *models.Message {
	return &models.Message{Role: role, Content: content}
}

func TestCache_RecordThenFindExactPrefix(t *testing.T) {
	c := NewDefault()
	c.config.MinTokensForCache = 1

	messages := []*models.Message{
		msg(models.RoleUser, "hello"),
		msg(models.RoleAssistant, "hi there"),
	}

	c.RecordCheckpoint("conv-1", messages, 1500)

	result, ok := c.FindCachedPrefix("conv-1", messages)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if result.CachedMessageCount != 2 {
		t.Errorf("cached message count = %d, want 2", result.CachedMessageCount)
	}
	if result.CachedTokenCount != 1500 {
		t.Errorf("cached token count = %d, want 1500", result.CachedTokenCount)
	}
	if result.HitCount != 1 {
		t.Errorf("hit count = %d, want 1", result.HitCount)
	}
}

func TestCache_MissOnUnknownConversation(t *testing.T) {
	c := NewDefault()
	if _, ok := c.FindCachedPrefix("never-seen", []*models.Message{msg(models.RoleUser, "x")}); ok {
		t.Fatalf("expected miss for unknown conversation")
	}
	if c.Statistics().TotalMisses != 1 {
		t.Errorf("total misses = %d, want 1", c.Statistics().TotalMisses)
	}
}

func TestCache_LongestPrefixWinsOverShorter(t *testing.T) {
	c := NewDefault()
	c.config.MinTokensForCache = 1

	short := []*models.Message{msg(models.RoleUser, "hello")}
	long := append(append([]*models.Message{}, short...), msg(models.RoleAssistant, "hi"), msg(models.RoleUser, "more"))

	c.RecordCheckpoint("conv-1", short, 100)
	c.RecordCheckpoint("conv-1", long, 400)

	result, ok := c.FindCachedPrefix("conv-1", long)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if result.CachedMessageCount != len(long) {
		t.Errorf("cached message count = %d, want %d (longest checkpoint, not the shorter one)", result.CachedMessageCount, len(long))
	}
}

func TestCache_PrefixHashChangesWithContent(t *testing.T) {
	c := NewDefault()
	c.config.MinTokensForCache = 1

	original := []*models.Message{msg(models.RoleUser, "hello")}
	c.RecordCheckpoint("conv-1", original, 100)

	edited := []*models.Message{msg(models.RoleUser, "hello world")}
	if _, ok := c.FindCachedPrefix("conv-1", edited); ok {
		t.Fatalf("expected miss: edited prefix content must not match the recorded hash")
	}
}

func TestCache_BelowMinTokensIsNotRecorded(t *testing.T) {
	c := NewDefault() // MinTokensForCache = 1024
	messages := []*models.Message{msg(models.RoleUser, "hello")}

	c.RecordCheckpoint("conv-1", messages, 10)

	if _, ok := c.FindCachedPrefix("conv-1", messages); ok {
		t.Fatalf("expected no checkpoint recorded below MinTokensForCache")
	}
}

func TestCache_ExpiredCheckpointIsNotAHit(t *testing.T) {
	c := NewDefault()
	c.config.MinTokensForCache = 1

	messages := []*models.Message{msg(models.RoleUser, "hello")}
	c.RecordCheckpoint("conv-1", messages, 100)

	conv := c.conversations["conv-1"]
	conv.checkpoints[0].LastAccessed = time.Now().Add(-DefaultCacheTTL - time.Second)

	if _, ok := c.FindCachedPrefix("conv-1", messages); ok {
		t.Fatalf("expected expired checkpoint to miss")
	}
}

func TestCache_MaxCheckpointsPerConversationEvictsOldest(t *testing.T) {
	c := NewDefault()
	c.config.MinTokensForCache = 1
	c.config.MaxCheckpointsPerConversation = 2

	for n := 1; n <= 4; n++ {
		messages := make([]*models.Message, n)
		for i := range messages {
			messages[i] = msg(models.RoleUser, "m")
		}
		c.RecordCheckpoint("conv-1", messages, 100)
	}

	conv := c.conversations["conv-1"]
	if len(conv.checkpoints) != 2 {
		t.Fatalf("checkpoint count = %d, want 2 (max enforced)", len(conv.checkpoints))
	}
	if conv.checkpoints[0].MessageCount != 4 || conv.checkpoints[1].MessageCount != 3 {
		t.Errorf("kept checkpoints = %d,%d, want the two longest (4,3)", conv.checkpoints[0].MessageCount, conv.checkpoints[1].MessageCount)
	}
}

func TestCache_GlobalCapacityEvictsLowestHitRateThenOldest(t *testing.T) {
	c := New(Config{
		Enabled:                       true,
		MaxCachedConversations:        10,
		MaxCheckpointsPerConversation: 10,
		MinTokensForCache:             1,
	})

	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		messages := []*models.Message{msg(models.RoleUser, id)}
		c.RecordCheckpoint(id, messages, 100)
	}

	// Give every conversation but "a" at least one hit; "a" stays at hit rate 0.
	for i := 1; i < 10; i++ {
		id := string(rune('a' + i))
		messages := []*models.Message{msg(models.RoleUser, id)}
		c.FindCachedPrefix(id, messages)
	}

	// Recording one more checkpoint for a brand new conversation pushes the
	// cache over capacity and triggers eviction of the worst 10%.
	c.RecordCheckpoint("new-conv", []*models.Message{msg(models.RoleUser, "z")}, 100)

	if _, ok := c.conversations["a"]; ok {
		t.Errorf("expected conversation \"a\" (0 hit rate, oldest) to be evicted")
	}
	if _, ok := c.conversations["new-conv"]; !ok {
		t.Errorf("expected new conversation to be present after eviction")
	}
}

func TestCache_DisabledNeverRecordsOrHits(t *testing.T) {
	c := New(Config{Enabled: false, MinTokensForCache: 1})
	messages := []*models.Message{msg(models.RoleUser, "hello")}

	c.RecordCheckpoint("conv-1", messages, 5000)
	if _, ok := c.FindCachedPrefix("conv-1", messages); ok {
		t.Fatalf("disabled cache must never report a hit")
	}
}

func TestCache_CostSavedTracksTokenCount(t *testing.T) {
	c := NewDefault()
	c.config.MinTokensForCache = 1

	messages := []*models.Message{msg(models.RoleUser, "hello")}
	c.RecordCheckpoint("conv-1", messages, 1_000_000)
	c.FindCachedPrefix("conv-1", messages)

	stats := c.Statistics()
	wantCost := 1.0 * costPerMillionInputTokensUSD * cacheReadDiscount
	if stats.CostSavedUSD != wantCost {
		t.Errorf("cost saved = %v, want %v", stats.CostSavedUSD, wantCost)
	}
	if stats.TokensSaved != 1_000_000 {
		t.Errorf("tokens saved = %d, want 1000000", stats.TokensSaved)
	}
}

func TestCache_HitRateComputation(t *testing.T) {
	var s Stats
	if s.HitRate() != 0 {
		t.Errorf("empty stats hit rate = %v, want 0", s.HitRate())
	}
	s.TotalHits = 3
	s.TotalMisses = 1
	if s.HitRate() != 0.75 {
		t.Errorf("hit rate = %v, want 0.75", s.HitRate())
	}
}

func TestConfigForAnthropic_HaikuNeedsMoreTokens(t *testing.T) {
	sonnet := ConfigForAnthropic("claude-3-5-sonnet-20241022")
	haiku := ConfigForAnthropic("claude-3-5-haiku-20241022")

	if sonnet.MinTokensForCache != 1024 {
		t.Errorf("sonnet min tokens = %d, want 1024", sonnet.MinTokensForCache)
	}
	if haiku.MinTokensForCache != 2048 {
		t.Errorf("haiku min tokens = %d, want 2048", haiku.MinTokensForCache)
	}
}
