package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hitoshi/trophyman/internal/model"
	"github.com/hitoshi/trophyman/internal/security"
)

// mockSender はMessageSenderのモック実装。
type mockSender struct {
	sendFunc func(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	calls    int
}

func (m *mockSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.calls++
	if m.sendFunc != nil {
		return m.sendFunc(channelID, embed, options...)
	}
	return &discordgo.Message{}, nil
}

func newTestNotifier(sender *mockSender) *DiscordNotifier {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	return NewDiscordNotifier(sender, security.NewTextSanitizer(), logger, "channel-123")
}

func testIdentity() *model.Identity {
	return &model.Identity{
		ID:            "identity-1",
		DiscordUserID: "111111111111111111",
		PSNOnlineID:   "trophy_hunter",
	}
}

func testTrophy(name string, tier model.TrophyTier, earnedAt time.Time) model.Trophy {
	return model.Trophy{
		ID:        "trophy-" + name,
		GameKey:   "NPWR20188_00",
		TrophyKey: "NPWR20188_00#" + name,
		Tier:      tier,
		Name:      name,
		EarnedAt:  earnedAt,
	}
}

func TestDeliver_SendsEmbed(t *testing.T) {
	var gotChannelID string
	var gotEmbed *discordgo.MessageEmbed
	sender := &mockSender{
		sendFunc: func(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
			gotChannelID = channelID
			gotEmbed = embed
			return &discordgo.Message{}, nil
		},
	}
	n := newTestNotifier(sender)

	now := time.Now()
	trophies := []model.Trophy{
		testTrophy("最初の一歩", model.TierBronze, now),
		testTrophy("全制覇", model.TierGold, now.Add(time.Hour)),
	}

	err := n.Deliver(context.Background(), testIdentity(), trophies)
	if err != nil {
		t.Fatalf("Deliver に失敗: %v", err)
	}

	if gotChannelID != "channel-123" {
		t.Errorf("channelID = %q, want %q", gotChannelID, "channel-123")
	}
	if gotEmbed == nil {
		t.Fatal("埋め込みが送信されていません")
	}
	if !strings.Contains(gotEmbed.Title, "trophy_hunter") {
		t.Errorf("タイトルにオンラインIDが含まれるべき: %q", gotEmbed.Title)
	}
	if len(gotEmbed.Fields) != 2 {
		t.Fatalf("フィールド数 = %d, want 2", len(gotEmbed.Fields))
	}
	// 入力順（獲得日時の昇順）で表示される
	if !strings.Contains(gotEmbed.Fields[0].Name, "最初の一歩") {
		t.Errorf("Fields[0] = %q", gotEmbed.Fields[0].Name)
	}
	if !strings.Contains(gotEmbed.Fields[1].Name, "全制覇") {
		t.Errorf("Fields[1] = %q", gotEmbed.Fields[1].Name)
	}
}

func TestDeliver_EmptyTrophiesSendsNothing(t *testing.T) {
	sender := &mockSender{}
	n := newTestNotifier(sender)

	if err := n.Deliver(context.Background(), testIdentity(), nil); err != nil {
		t.Fatalf("Deliver に失敗: %v", err)
	}
	if sender.calls != 0 {
		t.Errorf("トロフィー0件では送信しないべき: calls = %d", sender.calls)
	}
}

func TestDeliver_SendFailureReturnsError(t *testing.T) {
	sender := &mockSender{
		sendFunc: func(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
			return nil, errors.New("discord unavailable")
		},
	}
	n := newTestNotifier(sender)

	err := n.Deliver(context.Background(), testIdentity(), []model.Trophy{
		testTrophy("失敗テスト", model.TierBronze, time.Now()),
	})
	if err == nil {
		t.Fatal("送信失敗でエラーを期待")
	}
}

func TestBuildEmbed_ColorMatchesHighestTier(t *testing.T) {
	n := newTestNotifier(&mockSender{})

	now := time.Now()
	trophies := []model.Trophy{
		testTrophy("bronze", model.TierBronze, now),
		testTrophy("platinum", model.TierPlatinum, now),
		testTrophy("silver", model.TierSilver, now),
	}

	embed := n.buildEmbed(testIdentity(), trophies)
	if embed.Color != tierColors[model.TierPlatinum] {
		t.Errorf("Color = %#x, want %#x", embed.Color, tierColors[model.TierPlatinum])
	}
}

func TestBuildEmbed_SanitizesTrophyNames(t *testing.T) {
	n := newTestNotifier(&mockSender{})

	trophies := []model.Trophy{
		testTrophy(`<script>alert("xss")</script>クリア`, model.TierBronze, time.Now()),
	}

	embed := n.buildEmbed(testIdentity(), trophies)
	if strings.Contains(embed.Fields[0].Name, "script") {
		t.Errorf("トロフィー名がサニタイズされていません: %q", embed.Fields[0].Name)
	}
	if !strings.Contains(embed.Fields[0].Name, "クリア") {
		t.Errorf("通常のテキストが失われています: %q", embed.Fields[0].Name)
	}
}

func TestBuildEmbed_CapsFieldCount(t *testing.T) {
	n := newTestNotifier(&mockSender{})

	now := time.Now()
	var trophies []model.Trophy
	for i := 0; i < 30; i++ {
		trophies = append(trophies, testTrophy(string(rune('a'+i)), model.TierBronze, now))
	}

	embed := n.buildEmbed(testIdentity(), trophies)
	if len(embed.Fields) != maxTrophiesPerEmbed {
		t.Errorf("フィールド数 = %d, want %d", len(embed.Fields), maxTrophiesPerEmbed)
	}
	if !strings.Contains(embed.Description, "30件") {
		t.Errorf("総件数が表示されるべき: %q", embed.Description)
	}
}
