package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/ningen/v3"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"libdb.so/persist"
	persistbadgerdb "libdb.so/persist/driver/badgerdb"

	"libdb.so/boost-roles/internal/auditlog"
	"libdb.so/boost-roles/internal/cooldown"
	"libdb.so/boost-roles/internal/customrole"
	"libdb.so/boost-roles/internal/ephemeral"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Environment Variables:\n")
		fmt.Fprintf(os.Stderr, "  $DISCORD_TOKEN    the bot token\n")
		fmt.Fprintf(os.Stderr, "  $STATE_DIRECTORY  the directory to store the bot state\n")
		fmt.Fprintf(os.Stderr, "  $LOG_CHANNEL_ID   the channel to post audit events to (optional)\n")
		fmt.Fprintf(os.Stderr, "  $LOG_LEVEL        debug, info, warn or error (optional)\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "A .env file in the working directory is loaded first if present.\n")
	}
}

var (
	stateDirectory string
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(
			"Bot could not read the .env file. It will only use the environment.",
			"err", err)
	}

	if env := os.Getenv("LOG_LEVEL"); env != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(env)); err != nil {
			slog.Warn(
				"Bot could not parse $LOG_LEVEL. It will log at the default level.",
				"log_level", env,
				"err", err)
		} else {
			slog.SetLogLoggerLevel(level)
		}
	}

	if env := os.Getenv("LOG_CHANNEL_ID"); env != "" {
		id, err := discord.ParseSnowflake(env)
		if err != nil {
			slog.Error(
				"Bot could not parse $LOG_CHANNEL_ID.",
				"log_channel_id", env,
				"err", err)
			os.Exit(1)
		}
		settings.LogChannelID = discord.ChannelID(id)
	}

	if env := os.Getenv("STATE_DIRECTORY"); env != "" {
		stateDirectory = env
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			slog.Warn(
				"Bot could not get the user's config directory. It will use the current directory instead.",
				"err", err)
			userConfigDir = "."
		}
		stateDirectory = filepath.Join(userConfigDir, "boost-roles")
	}

	slog.Info(
		"This bot will be using a state directory.",
		"state_directory", stateDirectory)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	os.Exit(run(ctx))
}

type botState struct {
	botSettings
	SelfID        discord.UserID
	TargetGuildID discord.GuildID
}

func run(ctx context.Context) int {
	token := os.Getenv("DISCORD_TOKEN")
	if token == "" {
		slog.Error("This bot requires $DISCORD_TOKEN to be set.")
		return 1
	}

	errg, ctx := errgroup.WithContext(ctx)
	defer errg.Wait()

	// Keep track of the custom role claimed by each member.
	customRoles, err := persist.NewMap[discord.UserID, customrole.Record](
		persistbadgerdb.Open,
		filepath.Join(stateDirectory, "custom-roles-v1"),
	)
	if err != nil {
		slog.Error(
			"Bot could not open the custom-roles database. It will not be able to function.",
			"err", err)
		return 1
	}

	gatewayID := gateway.DefaultIdentifier(token)
	gatewayID.Properties = gateway.IdentifyProperties{
		OS:      runtime.GOOS,
		Browser: "Arikawa",
		Device:  "boost-roles",
	}

	session := ningen.
		NewWithIdentifier(gatewayID).
		WithContext(ctx)

	session.AddIntents(0 |
		gateway.IntentGuilds |
		gateway.IntentGuildMembers |
		gateway.IntentGuildMessages |
		gateway.IntentMessageContent)

	audit := auditlog.New(
		session, settings.LogChannelID,
		rate.NewLimiter(rate.Every(settings.AuditLogInterval), 5))

	// Pending test role removals are not persisted. Whatever is still pending
	// when the bot stops is left for an admin to clean up.
	tasks := ephemeral.New(ctx, audit, nil)
	defer tasks.Close()

	cooldowns := cooldown.New(nil)

	handler := &commandHandler{
		session:   session,
		cooldowns: cooldowns,
		roles:     customrole.NewManager(session, customRoles, tasks, audit, nil),
	}

	var (
		msgCh               = make(chan *gateway.MessageCreateEvent)
		readyCh             = make(chan *gateway.ReadyEvent)
		guildCh             = make(chan *gateway.GuildCreateEvent)
		readySupplementalCh = make(chan *gateway.ReadySupplementalEvent)
	)

	session.AddSyncHandler(readyCh)
	session.AddSyncHandler(guildCh)
	session.AddSyncHandler(readySupplementalCh)

	errg.Go(func() error {
		bot := botState{botSettings: settings}
		handler.bot = &bot

		trySubscribe := func() bool {
			if bot.TargetGuildID.IsValid() {
				return true
			}

			ch, err := session.Cabinet.Channel(settings.LogChannelID)
			if err != nil {
				slog.Info(
					"The bot tried to get the log channel, but it failed.",
					"err", err)
				return false
			}

			bot.TargetGuildID = ch.GuildID

			session.MemberState.Subscribe(ch.GuildID)
			session.AddSyncHandler(msgCh)

			slog.Info(
				"Bot has subscribed to the log channel's guild. It is now ready to serve.",
				"guild_id", ch.GuildID,
				"channel_id", bot.LogChannelID)

			audit.Log("bot_started", map[string]any{
				"guild_id": ch.GuildID,
				"bot_id":   bot.SelfID,
			})

			return true
		}

		startupTimeout := time.After(10 * time.Second)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()

			case <-startupTimeout:
				if !bot.TargetGuildID.IsValid() {
					return fmt.Errorf("bot has failed to start up in time")
				}

			case ev := <-readyCh:
				bot.SelfID = ev.User.ID

				slog.Info(
					"This bot is online. It is preparing to serve.",
					"bot_id", ev.User.ID,
					"bot_name", ev.User.Tag())

				// When the bot comes online, immediately start subscribing to
				// the guild that it cares about. This tells Discord to start
				// sending us message events for that guild.
				trySubscribe()

			case <-readySupplementalCh:
				trySubscribe()

			case <-guildCh:
				trySubscribe()

			case ev := <-msgCh:
				command, err := parseCommand(session, bot, ev)
				if err != nil {
					slog.Debug(
						"Bot was unable to parse the command due to an internal error.",
						"channel_id", ev.ChannelID,
						"err", err)
					continue
				}
				if command == nil {
					continue
				}

				slog.Info(
					"This bot has received a valid command.",
					"author.id", ev.Author.ID,
					"author.tag", ev.Author.Tag(),
					"command", command.Command,
					"args", command.Args)

				handler.handle(ev, command)
			}
		}
	})

	errg.Go(func() error {
		return audit.Run(ctx)
	})

	errg.Go(func() error {
		return cooldowns.Run(ctx, settings.CooldownSweepInterval)
	})

	errg.Go(func() error {
		slog.Debug("Bot is now connecting to Discord.")
		return session.Connect(ctx)
	})

	if err := errg.Wait(); err != nil {
		// Try to extract the cause of the cancellation, if any.
		if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
			err = cause
		}

		if errors.Is(err, context.Canceled) {
			slog.Info("Bot has been stopped.")
			return 0
		}

		slog.Error(
			"Bot has been stopped.",
			"err", err)
		return 1
	}

	return 0
}
