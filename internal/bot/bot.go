package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/user/discord-voicebridge/internal/config"
)

type Bot struct {
	config  *config.Config
	session *discordgo.Session

	// Active voice sessions, one per guild
	sessions map[string]*VoiceSession
	mutex    sync.RWMutex
}

func NewBot(cfg *config.Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	bot := &Bot{
		config:   cfg,
		session:  session,
		sessions: make(map[string]*VoiceSession),
	}

	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onMessageCreate)
	session.AddHandler(bot.onVoiceStateUpdate)

	return bot, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	log.Info().Msg("Discord bot started")
	return nil
}

func (b *Bot) Stop() error {
	b.mutex.Lock()
	for _, session := range b.sessions {
		session.Stop()
	}
	b.sessions = make(map[string]*VoiceSession)
	b.mutex.Unlock()

	if err := b.session.Close(); err != nil {
		return fmt.Errorf("failed to close Discord session: %w", err)
	}

	log.Info().Msg("Discord bot stopped")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Info().
		Str("username", event.User.Username).
		Int("guilds", len(event.Guilds)).
		Msg("Bot is ready")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.Bot {
		return
	}

	switch strings.TrimSpace(m.Content) {
	case "!join":
		b.handleJoin(s, m)
	case "!leave":
		b.handleLeave(s, m)
	}
}

// onVoiceStateUpdate auto-joins the configured target user's voice channel
// when they connect or move.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if b.config.TargetUserID == "" || v.UserID != b.config.TargetUserID {
		return
	}
	if v.ChannelID == "" {
		return
	}
	if v.BeforeUpdate != nil && v.BeforeUpdate.ChannelID == v.ChannelID {
		return
	}

	if b.sessionForGuild(v.GuildID) != nil {
		return
	}

	log.Info().
		Str("user_id", v.UserID).
		Str("channel_id", v.ChannelID).
		Msg("Target user joined voice, following")

	if err := b.startSession(v.GuildID, v.ChannelID, ""); err != nil {
		log.Error().Err(err).Msg("Failed to follow target user")
	}
}

func (b *Bot) handleJoin(s *discordgo.Session, m *discordgo.MessageCreate) {
	guild, err := s.State.Guild(m.GuildID)
	if err != nil {
		b.sendError(s, m.ChannelID, "Failed to get guild information")
		return
	}

	var voiceChannelID string
	for _, voiceState := range guild.VoiceStates {
		if voiceState.UserID == m.Author.ID {
			voiceChannelID = voiceState.ChannelID
			break
		}
	}

	if voiceChannelID == "" {
		b.sendError(s, m.ChannelID, "You need to be in a voice channel to use this command")
		return
	}

	if b.sessionForGuild(m.GuildID) != nil {
		b.sendError(s, m.ChannelID, "Already active in this server")
		return
	}

	if err := b.startSession(m.GuildID, voiceChannelID, m.ChannelID); err != nil {
		b.sendError(s, m.ChannelID, fmt.Sprintf("Failed to join: %v", err))
		return
	}

	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Listening in <#%s>. Use `!leave` to stop.", voiceChannelID))
}

func (b *Bot) handleLeave(s *discordgo.Session, m *discordgo.MessageCreate) {
	session := b.sessionForGuild(m.GuildID)
	if session == nil {
		b.sendError(s, m.ChannelID, "I am not in a voice channel")
		return
	}

	if err := session.Stop(); err != nil {
		b.sendError(s, m.ChannelID, fmt.Sprintf("Failed to leave: %v", err))
		return
	}

	b.mutex.Lock()
	delete(b.sessions, m.GuildID)
	b.mutex.Unlock()

	s.ChannelMessageSend(m.ChannelID, "Left the voice channel.")

	log.Info().
		Str("session_id", session.ID).
		Str("guild_id", m.GuildID).
		Msg("Voice session ended by command")
}

func (b *Bot) startSession(guildID, voiceChannelID, textChannelID string) error {
	sessionID := generateSessionID()

	session, err := NewVoiceSession(sessionID, guildID, voiceChannelID, textChannelID, b.session, b.config)
	if err != nil {
		return err
	}

	if err := session.Start(); err != nil {
		return err
	}

	b.mutex.Lock()
	b.sessions[guildID] = session
	b.mutex.Unlock()

	log.Info().
		Str("session_id", sessionID).
		Str("guild_id", guildID).
		Str("channel_id", voiceChannelID).
		Msg("Started voice session")

	return nil
}

func (b *Bot) sessionForGuild(guildID string) *VoiceSession {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.sessions[guildID]
}

func (b *Bot) sendError(s *discordgo.Session, channelID, message string) {
	if channelID == "" {
		return
	}
	s.ChannelMessageSend(channelID, message)
	log.Warn().Str("channel_id", channelID).Str("error", message).Msg("Sent error message")
}

func generateSessionID() string {
	return fmt.Sprintf("session_%s", time.Now().Format("20060102_150405"))
}
