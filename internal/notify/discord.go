// Package notify は新規トロフィーのDiscord通知を提供する。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/hitoshi/trophyman/internal/model"
	"github.com/hitoshi/trophyman/internal/security"
)

// maxTrophiesPerEmbed は1つの埋め込みに含めるトロフィーの最大数。
// Discordの埋め込みフィールド上限（25）に合わせる。
const maxTrophiesPerEmbed = 25

// tierColors はトロフィーランクごとの埋め込みカラー。
var tierColors = map[model.TrophyTier]int{
	model.TierBronze:   0xCD7F32,
	model.TierSilver:   0xC0C0C0,
	model.TierGold:     0xFFD700,
	model.TierPlatinum: 0xE5E4E2,
}

// tierEmojis はトロフィーランクごとの絵文字。
var tierEmojis = map[model.TrophyTier]string{
	model.TierBronze:   "🥉",
	model.TierSilver:   "🥈",
	model.TierGold:     "🥇",
	model.TierPlatinum: "🏆",
}

// Notifier は新規トロフィーの通知先インターフェース。
// 配信失敗は呼び出し元にエラーとして返るが、永続化済みレコードには影響しない。
type Notifier interface {
	// Deliver は新規トロフィーを通知する。trophiesは獲得日時の昇順であること。
	Deliver(ctx context.Context, identity *model.Identity, trophies []model.Trophy) error
}

// MessageSender はDiscordへのメッセージ送信インターフェース。
// discordgo.Sessionが実装する。テストではモックに差し替える。
type MessageSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier はDiscordチャンネルへ新規トロフィーの埋め込みを送信する。
type DiscordNotifier struct {
	sender    MessageSender
	sanitizer security.TextSanitizerService
	logger    *slog.Logger
	channelID string
}

// NewDiscordNotifier はDiscordNotifierを生成する。
func NewDiscordNotifier(sender MessageSender, sanitizer security.TextSanitizerService, logger *slog.Logger, channelID string) *DiscordNotifier {
	return &DiscordNotifier{
		sender:    sender,
		sanitizer: sanitizer,
		logger:    logger,
		channelID: channelID,
	}
}

// Deliver は新規トロフィーを1つの埋め込みメッセージとして送信する。
// トロフィー0件の場合は何も送信しない。
func (n *DiscordNotifier) Deliver(ctx context.Context, identity *model.Identity, trophies []model.Trophy) error {
	if len(trophies) == 0 {
		return nil
	}

	embed := n.buildEmbed(identity, trophies)

	_, err := n.sender.ChannelMessageSendEmbed(n.channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		n.logger.Error("Discord通知の送信に失敗しました",
			slog.String("identity_id", identity.ID),
			slog.String("channel_id", n.channelID),
			slog.Int("trophy_count", len(trophies)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("Discord通知の送信に失敗しました: %w", err)
	}

	n.logger.Info("新規トロフィーを通知しました",
		slog.String("identity_id", identity.ID),
		slog.Int("trophy_count", len(trophies)),
	)

	return nil
}

// buildEmbed は通知用の埋め込みメッセージを構築する。
// トロフィーは入力順（獲得日時の昇順）で表示される。
func (n *DiscordNotifier) buildEmbed(identity *model.Identity, trophies []model.Trophy) *discordgo.MessageEmbed {
	// 最高ランクのトロフィーで埋め込みカラーを決める
	highest := trophies[0].Tier
	for _, trophy := range trophies[1:] {
		if model.TierRank(trophy.Tier) > model.TierRank(highest) {
			highest = trophy.Tier
		}
	}

	color, ok := tierColors[highest]
	if !ok {
		color = 0x5865F2 // Discordブランドカラー
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(trophies))
	shown := trophies
	if len(shown) > maxTrophiesPerEmbed {
		shown = shown[:maxTrophiesPerEmbed]
	}
	for _, trophy := range shown {
		emoji := tierEmojis[trophy.Tier]
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   strings.TrimSpace(emoji + " " + n.sanitizer.Sanitize(trophy.Name)),
			Value:  fmt.Sprintf("<t:%d:f>", trophy.EarnedAt.Unix()),
			Inline: false,
		})
	}

	title := fmt.Sprintf("%s が新しいトロフィーを獲得しました！", identity.PSNOnlineID)
	description := fmt.Sprintf("<@%s> の新規トロフィー: %d件", identity.DiscordUserID, len(trophies))
	if len(trophies) > maxTrophiesPerEmbed {
		description += fmt.Sprintf("（表示は最初の%d件）", maxTrophiesPerEmbed)
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
	}
}
