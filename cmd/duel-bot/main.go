package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/redis/go-redis/v9"

	"github.com/seonghun126/algoduel-bot/internal/adapter/duelpresenter"
	"github.com/seonghun126/algoduel-bot/internal/challenge"
	appcfg "github.com/seonghun126/algoduel-bot/internal/config"
	"github.com/seonghun126/algoduel-bot/internal/discordgw"
	"github.com/seonghun126/algoduel-bot/internal/domain"
	"github.com/seonghun126/algoduel-bot/internal/judge"
	"github.com/seonghun126/algoduel-bot/internal/msgcat"
	"github.com/seonghun126/algoduel-bot/internal/obslog"
	"github.com/seonghun126/algoduel-bot/internal/profile"
	"github.com/seonghun126/algoduel-bot/internal/rating"
	"github.com/seonghun126/algoduel-bot/internal/schedule"
	"github.com/seonghun126/algoduel-bot/pkg/dueldto"
)

type prefixProvider struct{ prefix string }

func (p prefixProvider) Prefix() string { return p.prefix }

// profileStore is the slice of the profile layer the command handlers touch.
// Both the plain Postgres store and its Redis-cached wrapper satisfy it.
type profileStore interface {
	GetRating(ctx context.Context, serverID, userID string) (*int, error)
	GetHandle(ctx context.Context, serverID, userID string) (string, error)
	SetHandle(ctx context.Context, serverID, userID, handle string) error
	GetStreak(ctx context.Context, serverID, userID string, at time.Time, excludeChallengeID string) (domain.Streak, error)
}

type app struct {
	cfg       *appcfg.AppConfig
	rest      *discordgw.RestClient
	engine    *challenge.Engine
	profiles  profileStore
	judge     *judge.Client
	formatter *duelpresenter.Formatter
	botUserID func() string
}

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	db, err := challenge.OpenDB(cfg.DatabaseURL)
	if err != nil {
		obslog.L().Fatal("db_open_error", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()

	challengeStore := challenge.NewPostgresStore(db)
	if err := challengeStore.Migrate(ctx); err != nil {
		obslog.L().Fatal("challenge_migrate_error", zap.Error(err))
	}
	profilePg := profile.NewPostgresStore(db)
	if err := profilePg.Migrate(ctx); err != nil {
		obslog.L().Fatal("profile_migrate_error", zap.Error(err))
	}

	var profiles interface {
		profileStore
		challenge.ProfileStore
	} = profilePg

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			obslog.L().Fatal("redis_url_error", zap.Error(err))
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		profiles = profile.NewCachedStore(profilePg, rdb)
		obslog.L().Info("profile_cache_enabled")
	}

	judgeClient := judge.NewClient(cfg.JudgeBaseURL, judge.WithTimeout(8*time.Second), judge.WithRetry(3))
	model := rating.NewElo()

	cat, err := msgcat.New(cfg.MsgTemplateDir)
	if err != nil {
		obslog.L().Fatal("msgcat_error", zap.Error(err))
	}
	formatter := duelpresenter.NewFormatter(cat, prefixProvider{prefix: cfg.BotPrefix})
	rest := discordgw.NewRestClient(cfg.DiscordToken, discordgw.WithRetry(3))

	var engine *challenge.Engine
	presenter := duelpresenter.NewPresenter(
		formatter,
		rest.CreateMessage,
		rest.EditMessage,
		func(ctx context.Context, id string) (*domain.Challenge, error) { return engine.GetChallenge(ctx, id) },
	)
	engine = challenge.NewEngine(challengeStore, profiles, judgeClient, model,
		challenge.WithMessageSyncer(presenter),
		challenge.WithCompletionNotifier(presenter),
	)

	sched, err := schedule.New(engine, cfg.TickInterval)
	if err != nil {
		obslog.L().Fatal("scheduler_error", zap.Error(err))
	}
	if err := sched.Start(ctx); err != nil {
		obslog.L().Fatal("scheduler_start_error", zap.Error(err))
	}
	defer func() { _ = sched.Stop() }()

	a := &app{
		cfg:       cfg,
		rest:      rest,
		engine:    engine,
		profiles:  profiles,
		judge:     judgeClient,
		formatter: formatter,
	}

	gw := discordgw.NewGateway(cfg.DiscordToken, func(msg *discordgw.Message) {
		// handled off the gateway goroutine so a slow judge lookup never
		// stalls the event stream
		go a.handleMessage(msg)
	})
	a.botUserID = gw.BotUserID

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if err := gw.Connect(cctx); err != nil {
		cancel()
		obslog.L().Fatal("gateway_connect_error", zap.Error(err))
	}
	cancel()
	obslog.L().Info("bot_started", zap.String("prefix", cfg.BotPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = gw.Close(shutdownCtx)
	obslog.L().Info("bot_stopped")
}

func (a *app) reply(channelID, content string) {
	if content == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := a.rest.CreateMessage(ctx, channelID, content); err != nil {
		obslog.L().Warn("reply_error", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func guildAllowed(allowed []string, guildID string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, g := range allowed {
		if g == guildID {
			return true
		}
	}
	return false
}

func (a *app) handleMessage(msg *discordgw.Message) {
	if msg == nil || msg.GuildID == "" || strings.TrimSpace(msg.Content) == "" {
		return
	}
	if !guildAllowed(a.cfg.AllowedGuilds, msg.GuildID) {
		return
	}
	raw := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(raw, a.cfg.BotPrefix) {
		return
	}
	raw = strings.TrimSpace(strings.TrimPrefix(raw, a.cfg.BotPrefix))

	fields := strings.Fields(raw)
	if len(fields) == 0 {
		a.reply(msg.ChannelID, a.formatter.Help())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch fields[0] {
	case "duel":
		a.handleDuel(ctx, msg, fields[1:])
	case "handle":
		a.handleHandle(ctx, msg, fields[1:])
	case "rating":
		a.handleRating(ctx, msg)
	case "help":
		a.reply(msg.ChannelID, a.formatter.Help())
	}
}

func (a *app) handleDuel(ctx context.Context, msg *discordgw.Message, args []string) {
	if len(args) == 0 {
		a.reply(msg.ChannelID, a.formatter.Help())
		return
	}
	switch args[0] {
	case "start":
		a.handleDuelStart(ctx, msg, args[1:])
	case "cancel":
		a.handleDuelCancel(ctx, msg)
	case "active":
		a.handleDuelActive(ctx, msg)
	case "recent":
		a.handleDuelRecent(ctx, msg)
	default:
		a.reply(msg.ChannelID, a.formatter.Help())
	}
}

func (a *app) handleDuelStart(ctx context.Context, msg *discordgw.Message, args []string) {
	// args: <problem> <minutes> @user...
	var problemToken, minutesToken string
	for _, f := range args {
		if strings.HasPrefix(f, "<@") {
			continue
		}
		if problemToken == "" {
			problemToken = f
			continue
		}
		if minutesToken == "" {
			minutesToken = f
		}
	}

	contestID, index, err := judge.ParseProblemToken(problemToken)
	if err != nil {
		a.reply(msg.ChannelID, a.formatter.Error("errors.bad_problem",
			"Could not parse that problem.", map[string]any{"Input": problemToken}))
		return
	}
	minutes, err := strconv.Atoi(minutesToken)
	if err != nil || minutes <= 0 {
		a.reply(msg.ChannelID, a.formatter.Error("errors.bad_length",
			"Duel length must be a positive number of minutes.", nil))
		return
	}

	participants := []string{msg.Author.ID}
	botID := ""
	if a.botUserID != nil {
		botID = a.botUserID()
	}
	for _, m := range msg.Mentions {
		if m.Bot || m.ID == msg.Author.ID || m.ID == botID {
			continue
		}
		participants = append(participants, m.ID)
	}
	if len(participants) < 2 {
		a.reply(msg.ChannelID, a.formatter.Error("errors.need_opponent",
			"Mention at least one opponent to start a duel.", nil))
		return
	}

	// one duel per host at a time
	mine, err := a.engine.ListActiveByUser(ctx, msg.GuildID, msg.Author.ID)
	if err != nil {
		obslog.L().Warn("duel_start_lookup_error", zap.Error(err))
		a.reply(msg.ChannelID, a.formatter.Error("errors.internal", "Something went wrong.", nil))
		return
	}
	if len(mine) > 0 {
		a.reply(msg.ChannelID, a.formatter.Error("duel.already_active",
			"You already have an active duel.", nil))
		return
	}

	problem, err := a.judge.GetProblem(ctx, domain.ProblemRef{ContestID: contestID, Index: index})
	if err != nil {
		obslog.L().Warn("problem_lookup_error", zap.String("token", problemToken), zap.Error(err))
		a.reply(msg.ChannelID, a.formatter.Error("errors.judge_down",
			"The judge is not responding right now.", nil))
		return
	}

	started := time.Now().UTC()
	preview := domain.Challenge{
		Problem:       problem,
		LengthMinutes: minutes,
		StartedAt:     started,
		EndsAt:        started.Add(time.Duration(minutes) * time.Minute),
		Status:        domain.StatusActive,
	}
	for i, uid := range participants {
		preview.Participants = append(preview.Participants, &domain.Participant{UserID: uid, Position: i})
	}

	// post the live message first so its ID can be persisted with the duel
	messageID, err := a.rest.CreateMessage(ctx, msg.ChannelID,
		a.formatter.Started(duelpresenter.ToChallengeView(&preview)))
	if err != nil {
		obslog.L().Warn("duel_message_error", zap.Error(err))
		a.reply(msg.ChannelID, a.formatter.Error("errors.internal", "Something went wrong.", nil))
		return
	}

	_, err = a.engine.CreateChallenge(ctx, challenge.CreateParams{
		ServerID:           msg.GuildID,
		ChannelID:          msg.ChannelID,
		MessageID:          messageID,
		HostUserID:         msg.Author.ID,
		Problem:            problem,
		LengthMinutes:      minutes,
		ParticipantUserIDs: participants,
		StartedAt:          started,
	})
	if err != nil {
		obslog.L().Error("duel_create_error", zap.Error(err))
		a.reply(msg.ChannelID, a.formatter.Error("errors.internal", "Something went wrong.", nil))
	}
}

func (a *app) handleDuelCancel(ctx context.Context, msg *discordgw.Message) {
	mine, err := a.engine.ListActiveByUser(ctx, msg.GuildID, msg.Author.ID)
	if err != nil {
		obslog.L().Warn("duel_cancel_lookup_error", zap.Error(err))
		a.reply(msg.ChannelID, a.formatter.Error("errors.internal", "Something went wrong.", nil))
		return
	}
	if len(mine) == 0 {
		a.reply(msg.ChannelID, a.formatter.Error("duel.not_participant",
			"You are not in any active duel.", nil))
		return
	}

	// no permission model: any participant may call off the duel
	_, ok, err := a.engine.Cancel(ctx, mine[0].ID, msg.Author.ID)
	if err != nil {
		obslog.L().Error("duel_cancel_error", zap.Error(err))
		a.reply(msg.ChannelID, a.formatter.Error("errors.internal", "Something went wrong.", nil))
		return
	}
	if !ok {
		a.reply(msg.ChannelID, a.formatter.Error("duel.cancel_gone",
			"That duel is not active anymore.", nil))
	}
}

func (a *app) handleDuelActive(ctx context.Context, msg *discordgw.Message) {
	chs, err := a.engine.ListActive(ctx, msg.GuildID)
	if err != nil {
		obslog.L().Warn("duel_active_error", zap.Error(err))
		a.reply(msg.ChannelID, a.formatter.Error("errors.internal", "Something went wrong.", nil))
		return
	}
	views := make([]dueldto.ChallengeView, 0, len(chs))
	for _, ch := range chs {
		views = append(views, duelpresenter.ToChallengeView(ch))
	}
	a.reply(msg.ChannelID, a.formatter.ActiveList(views, time.Now().UTC()))
}

func (a *app) handleDuelRecent(ctx context.Context, msg *discordgw.Message) {
	recent, err := a.engine.RecentCompleted(ctx, msg.GuildID, a.cfg.RecentLimit)
	if err != nil {
		obslog.L().Warn("duel_recent_error", zap.Error(err))
		a.reply(msg.ChannelID, a.formatter.Error("errors.internal", "Something went wrong.", nil))
		return
	}
	views := make([]dueldto.ChallengeView, 0, len(recent))
	for _, c := range recent {
		views = append(views, duelpresenter.ToChallengeView(c.Challenge))
	}
	a.reply(msg.ChannelID, a.formatter.RecentList(views))
}

func (a *app) handleHandle(ctx context.Context, msg *discordgw.Message, args []string) {
	if len(args) == 0 {
		a.reply(msg.ChannelID, a.formatter.Help())
		return
	}
	switch args[0] {
	case "set":
		if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
			a.reply(msg.ChannelID, a.formatter.Help())
			return
		}
		handle := strings.TrimSpace(args[1])
		if err := a.profiles.SetHandle(ctx, msg.GuildID, msg.Author.ID, handle); err != nil {
			obslog.L().Error("handle_set_error", zap.Error(err))
			a.reply(msg.ChannelID, a.formatter.Error("errors.internal", "Something went wrong.", nil))
			return
		}
		a.reply(msg.ChannelID, a.formatter.HandleLinked(msg.Author.ID, handle))
	case "show":
		handle, err := a.profiles.GetHandle(ctx, msg.GuildID, msg.Author.ID)
		if err != nil {
			obslog.L().Warn("handle_show_error", zap.Error(err))
			a.reply(msg.ChannelID, a.formatter.Error("errors.internal", "Something went wrong.", nil))
			return
		}
		a.reply(msg.ChannelID, a.formatter.HandleShow(msg.Author.ID, handle))
	default:
		a.reply(msg.ChannelID, a.formatter.Help())
	}
}

func (a *app) handleRating(ctx context.Context, msg *discordgw.Message) {
	r, err := a.profiles.GetRating(ctx, msg.GuildID, msg.Author.ID)
	if err != nil {
		obslog.L().Warn("rating_show_error", zap.Error(err))
		a.reply(msg.ChannelID, a.formatter.Error("errors.internal", "Something went wrong.", nil))
		return
	}
	st, err := a.profiles.GetStreak(ctx, msg.GuildID, msg.Author.ID, time.Now().UTC(), "")
	if err != nil {
		obslog.L().Warn("streak_show_error", zap.Error(err))
	}
	a.reply(msg.ChannelID, a.formatter.Rating(dueldto.ProfileView{
		UserID:        msg.Author.ID,
		Rating:        r,
		CurrentStreak: st.Current,
		LongestStreak: st.Longest,
	}))
}
