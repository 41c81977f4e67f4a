// Package chat is the boundary between the reward engine and Discord.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

//go:generate mockgen -source=platform.go -destination=mock/platform.go -package=mock

var (
	ErrGuildUnavailable = errors.New("guild not available")
	ErrMemberNotFound   = errors.New("member not found")
)

type Guild struct {
	ID   snowflake.ID
	Name string
}

type Channel struct {
	ID   snowflake.ID
	Name string
}

type Message struct {
	ID        snowflake.ID
	ChannelID snowflake.ID
	AuthorID  snowflake.ID
}

// Member is the slice of guild membership the lottery cares about.
type Member struct {
	UserID   snowflake.ID
	GuildID  snowflake.ID
	IsBot    bool
	JoinedAt time.Time
}

// Platform is everything the reward engine asks of the chat service.
type Platform interface {
	ResolveGuild(ctx context.Context, guildID snowflake.ID) (Guild, error)
	ListGuildTextChannels(ctx context.Context, guildID snowflake.ID) ([]Channel, error)
	RecentMessages(ctx context.Context, channelID snowflake.ID, limit int) ([]Message, error)
	React(ctx context.Context, channelID, messageID snowflake.ID, emoji string) error
	SendMessage(ctx context.Context, channelID snowflake.ID, content string) error
	ResolveMember(ctx context.Context, guildID, userID snowflake.ID) (Member, error)
}

// DisgoPlatform implements Platform on top of a disgo client.
type DisgoPlatform struct {
	client bot.Client
}

func NewPlatform(client bot.Client) *DisgoPlatform {
	return &DisgoPlatform{client: client}
}

func (p *DisgoPlatform) ResolveGuild(_ context.Context, guildID snowflake.ID) (Guild, error) {
	guild, ok := p.client.Caches().Guild(guildID)
	if !ok {
		return Guild{}, fmt.Errorf("%w: %s", ErrGuildUnavailable, guildID)
	}
	return Guild{ID: guild.ID, Name: guild.Name}, nil
}

func (p *DisgoPlatform) ListGuildTextChannels(ctx context.Context, guildID snowflake.ID) ([]Channel, error) {
	channels, err := p.client.Rest().GetGuildChannels(guildID, rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list channels of guild %s: %w", guildID, err)
	}

	text := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Type() != discord.ChannelTypeGuildText {
			continue
		}
		text = append(text, Channel{ID: ch.ID(), Name: ch.Name()})
	}
	return text, nil
}

func (p *DisgoPlatform) RecentMessages(ctx context.Context, channelID snowflake.ID, limit int) ([]Message, error) {
	messages, err := p.client.Rest().GetMessages(channelID, 0, 0, 0, limit, rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages of channel %s: %w", channelID, err)
	}

	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = Message{ID: m.ID, ChannelID: m.ChannelID, AuthorID: m.Author.ID}
	}
	return out, nil
}

func (p *DisgoPlatform) React(ctx context.Context, channelID, messageID snowflake.ID, emoji string) error {
	if err := p.client.Rest().AddReaction(channelID, messageID, emoji, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("failed to react to message %s: %w", messageID, err)
	}
	return nil
}

func (p *DisgoPlatform) SendMessage(ctx context.Context, channelID snowflake.ID, content string) error {
	_, err := p.client.Rest().CreateMessage(channelID, discord.NewMessageCreateBuilder().
		SetContent(content).
		Build(), rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to send message to channel %s: %w", channelID, err)
	}
	return nil
}

func (p *DisgoPlatform) ResolveMember(ctx context.Context, guildID, userID snowflake.ID) (Member, error) {
	if member, ok := p.client.Caches().Member(guildID, userID); ok {
		return toMember(guildID, member), nil
	}

	member, err := p.client.Rest().GetMember(guildID, userID, rest.WithCtx(ctx))
	if err != nil {
		return Member{}, fmt.Errorf("%w: %s in guild %s: %v", ErrMemberNotFound, userID, guildID, err)
	}
	return toMember(guildID, *member), nil
}

func toMember(guildID snowflake.ID, m discord.Member) Member {
	if m.GuildID != 0 {
		guildID = m.GuildID
	}
	return Member{
		UserID:   m.User.ID,
		GuildID:  guildID,
		IsBot:    m.User.Bot,
		JoinedAt: m.JoinedAt,
	}
}
