package duelpresenter

import (
	"context"

	"github.com/seonghun126/algoduel-bot/internal/challenge"
	"github.com/seonghun126/algoduel-bot/internal/domain"
)

// Presenter keeps the pinned duel message in sync and announces completions.
// It is wired to the engine as its MessageSyncer and CompletionNotifier; the
// send/edit funcs are injected so it never couples to the gateway client.
type Presenter struct {
	formatter   *Formatter
	sendMessage func(ctx context.Context, channelID, content string) (string, error)
	editMessage func(ctx context.Context, channelID, messageID, content string) error
	load        func(ctx context.Context, challengeID string) (*domain.Challenge, error)
}

func NewPresenter(
	formatter *Formatter,
	sendMessage func(ctx context.Context, channelID, content string) (string, error),
	editMessage func(ctx context.Context, channelID, messageID, content string) error,
	load func(ctx context.Context, challengeID string) (*domain.Challenge, error),
) *Presenter {
	return &Presenter{
		formatter:   formatter,
		sendMessage: sendMessage,
		editMessage: editMessage,
		load:        load,
	}
}

// SyncChallenge rewrites the duel's live message to match current state.
// Challenges created before the message existed are skipped.
func (p *Presenter) SyncChallenge(ctx context.Context, ch *domain.Challenge, notes []challenge.StreakNote) error {
	if p == nil || p.editMessage == nil || ch == nil || ch.MessageID == "" {
		return nil
	}
	v := ToChallengeView(ch)
	streaks := toStreakViews(notes)

	var content string
	switch ch.Status {
	case domain.StatusCompleted:
		content = p.formatter.Completed(v, streaks)
	case domain.StatusCancelled:
		content = p.formatter.Cancelled(v)
	default:
		content = p.formatter.Live(v, streaks)
	}
	return p.editMessage(ctx, ch.ChannelID, ch.MessageID, content)
}

// OnChallengeCompleted posts a fresh results message so the outcome is
// visible even when the original duel message scrolled away.
func (p *Presenter) OnChallengeCompleted(ctx context.Context, challengeID string) error {
	if p == nil || p.sendMessage == nil || p.load == nil {
		return nil
	}
	ch, err := p.load(ctx, challengeID)
	if err != nil {
		return err
	}
	if ch == nil || ch.ChannelID == "" {
		return nil
	}
	content := p.formatter.Completed(ToChallengeView(ch), nil)
	_, err = p.sendMessage(ctx, ch.ChannelID, content)
	return err
}
