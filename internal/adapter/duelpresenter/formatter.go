package duelpresenter

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seonghun126/algoduel-bot/internal/msgcat"
	"github.com/seonghun126/algoduel-bot/internal/obslog"
	"github.com/seonghun126/algoduel-bot/pkg/dueldto"
)

// PrefixProvider exposes the command prefix messages should show.
type PrefixProvider interface {
	Prefix() string
}

// Formatter renders duel views into Discord-friendly text blocks. Copy lives
// in the message catalog; layout (participant rows, result tables) is built
// here.
type Formatter struct {
	cat            *msgcat.Catalog
	prefixProvider PrefixProvider
}

func NewFormatter(cat *msgcat.Catalog, provider PrefixProvider) *Formatter {
	return &Formatter{cat: cat, prefixProvider: provider}
}

func (f *Formatter) Prefix() string {
	if f == nil || f.prefixProvider == nil {
		return "!"
	}
	return strings.TrimSpace(f.prefixProvider.Prefix())
}

// render falls back to the raw fallback text when the catalog is missing or
// the template fails; chat output degrades, never errors.
func (f *Formatter) render(key string, data any, fallback string) string {
	if f.cat == nil {
		return fallback
	}
	out, err := f.cat.Render(key, data)
	if err != nil {
		obslog.L().Warn("message_render_error", zap.String("key", key), zap.Error(err))
		return fallback
	}
	return out
}

func mention(userID string) string { return "<@" + userID + ">" }

func mentionAll(views []dueldto.ParticipantView) string {
	names := make([]string, 0, len(views))
	for _, p := range views {
		names = append(names, mention(p.UserID))
	}
	return strings.Join(names, " vs ")
}

func formatDelta(delta *int) string {
	if delta == nil {
		return ""
	}
	if *delta >= 0 {
		return fmt.Sprintf("+%d", *delta)
	}
	return fmt.Sprintf("%d", *delta)
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}

// Started renders the message posted when a duel begins.
func (f *Formatter) Started(v dueldto.ChallengeView) string {
	fallback := fmt.Sprintf("Duel started: %s (%d min) — %s",
		v.ProblemKey, v.LengthMinutes, mentionAll(v.Participants))
	return f.render("duel.started", map[string]any{
		"Problem":       v.ProblemKey,
		"ProblemName":   v.ProblemName,
		"ProblemRating": v.ProblemRating,
		"Participants":  mentionAll(v.Participants),
		"LengthMinutes": v.LengthMinutes,
		"EndsAt":        v.EndsAt.UTC().Format("15:04 MST"),
	}, fallback)
}

// Live renders the current standing of an active duel; it is the body the
// pinned duel message is edited to on every poll.
func (f *Formatter) Live(v dueldto.ChallengeView, streaks []dueldto.StreakView) string {
	var sb strings.Builder
	sb.WriteString(f.Started(v))
	sb.WriteString("\n")
	for _, p := range v.Participants {
		if p.Solved {
			sb.WriteString(fmt.Sprintf("✅ %s — %s", mention(p.UserID), formatElapsed(p.Elapsed)))
			if d := formatDelta(p.RatingDelta); d != "" {
				sb.WriteString(" (" + d + ")")
			}
		} else {
			sb.WriteString(fmt.Sprintf("⏳ %s — racing", mention(p.UserID)))
		}
		sb.WriteString("\n")
	}
	f.appendStreaks(&sb, streaks)
	return strings.TrimRight(sb.String(), "\n")
}

// Completed renders the final results block.
func (f *Formatter) Completed(v dueldto.ChallengeView, streaks []dueldto.StreakView) string {
	var rows strings.Builder
	for _, p := range v.Participants {
		switch {
		case p.Solved && p.UserID == v.FirstSolver:
			rows.WriteString(fmt.Sprintf("🥇 %s — %s", mention(p.UserID), formatElapsed(p.Elapsed)))
		case p.Solved:
			rows.WriteString(fmt.Sprintf("✅ %s — %s", mention(p.UserID), formatElapsed(p.Elapsed)))
		default:
			rows.WriteString(fmt.Sprintf("❌ %s — unsolved", mention(p.UserID)))
		}
		if d := formatDelta(p.RatingDelta); d != "" {
			rows.WriteString(" (" + d + ")")
		}
		rows.WriteString("\n")
	}

	fallback := fmt.Sprintf("Duel over: %s\n%s", v.ProblemKey, rows.String())
	out := f.render("duel.completed", map[string]any{
		"Problem": v.ProblemKey,
		"Results": strings.TrimRight(rows.String(), "\n"),
	}, fallback)

	var sb strings.Builder
	sb.WriteString(out)
	sb.WriteString("\n")
	f.appendStreaks(&sb, streaks)
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) Cancelled(v dueldto.ChallengeView) string {
	fallback := fmt.Sprintf("Duel on %s was cancelled by %s.", v.ProblemKey, mention(v.CancelledBy))
	return f.render("duel.cancelled", map[string]any{
		"Problem": v.ProblemKey,
		"User":    mention(v.CancelledBy),
	}, fallback)
}

func (f *Formatter) appendStreaks(sb *strings.Builder, streaks []dueldto.StreakView) {
	for _, s := range streaks {
		fallback := fmt.Sprintf("🔥 %s is on a %d-day solve streak", mention(s.UserID), s.Days)
		sb.WriteString(f.render("duel.streak", map[string]any{
			"User":         mention(s.UserID),
			"Days":         s.Days,
			"PersonalBest": s.PersonalBest,
		}, fallback))
		sb.WriteString("\n")
	}
}

// ActiveList renders the response to the active-duels listing.
func (f *Formatter) ActiveList(views []dueldto.ChallengeView, now time.Time) string {
	if len(views) == 0 {
		return f.render("duel.no_active", nil, "No active duels here.")
	}
	var sb strings.Builder
	for _, v := range views {
		left := v.EndsAt.Sub(now).Round(time.Second)
		if left < 0 {
			left = 0
		}
		solved := 0
		for _, p := range v.Participants {
			if p.Solved {
				solved++
			}
		}
		sb.WriteString(fmt.Sprintf("• %s — %s, %d/%d solved, %s left\n",
			v.ProblemKey, mentionAll(v.Participants), solved, len(v.Participants), left))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RecentList renders recently completed duels.
func (f *Formatter) RecentList(views []dueldto.ChallengeView) string {
	if len(views) == 0 {
		return "No completed duels yet."
	}
	var sb strings.Builder
	for _, v := range views {
		winner := "nobody"
		if v.FirstSolver != "" {
			winner = mention(v.FirstSolver)
		}
		sb.WriteString(fmt.Sprintf("• %s — won by %s (%d racers, %d min)\n",
			v.ProblemKey, winner, len(v.Participants), v.LengthMinutes))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) HandleLinked(userID, handle string) string {
	return f.render("handle.linked", map[string]any{
		"User": mention(userID), "Handle": handle,
	}, fmt.Sprintf("Linked %s to %s.", mention(userID), handle))
}

func (f *Formatter) HandleShow(userID, handle string) string {
	if handle == "" {
		return f.render("handle.missing", map[string]any{
			"User": mention(userID), "Prefix": f.Prefix(),
		}, fmt.Sprintf("%s has no judge handle linked.", mention(userID)))
	}
	return f.render("handle.show", map[string]any{
		"User": mention(userID), "Handle": handle,
	}, fmt.Sprintf("%s is linked to %s.", mention(userID), handle))
}

func (f *Formatter) Rating(p dueldto.ProfileView) string {
	if p.Rating == nil {
		return f.render("rating.unknown", map[string]any{"User": mention(p.UserID)},
			fmt.Sprintf("%s has no rating yet.", mention(p.UserID)))
	}
	return f.render("rating.show", map[string]any{
		"User":   mention(p.UserID),
		"Rating": *p.Rating,
		"Streak": p.CurrentStreak,
	}, fmt.Sprintf("%s is rated %d.", mention(p.UserID), *p.Rating))
}

func (f *Formatter) Help() string {
	return f.render("help.text", map[string]any{"Prefix": f.Prefix()},
		fmt.Sprintf("%sduel start <problem> <minutes> @user", f.Prefix()))
}

func (f *Formatter) Error(key, fallback string, data map[string]any) string {
	if data == nil {
		data = map[string]any{}
	}
	return f.render(key, data, fallback)
}
