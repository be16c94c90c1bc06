package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"hum/internal/config"
	"hum/internal/protocol"
	"hum/internal/syncclient"
	"hum/internal/voice"
)

const tickInterval = 100 * time.Millisecond

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	flags := pflag.NewFlagSet("humctl", pflag.ExitOnError)
	configFile := flags.String("config", "config/client.yaml", "client config file")
	flags.String("server_url", "", "websocket endpoint of the sync server")
	flags.String("room", "", "room to join")
	flags.String("video", "", "video to load after joining")
	flags.Bool("voice", false, "join the room's voice mesh")
	flags.Duration("load_delay", 500*time.Millisecond, "simulated player load time")
	flags.Float64("duration", 600, "simulated video length in seconds")
	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		log.Fatal().Err(err).Msg("failed to bind flags")
	}
	cfg, err := config.LoadClient(v, *configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.Log.Apply()
	if cfg.Room == "" {
		log.Fatal().Msg("--room is required")
	}

	conn, err := syncclient.Dial(ctx, cfg.ServerURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer conn.Close()

	clk := clock.New()
	player := syncclient.NewSimulatedPlayer(clk, v.GetDuration("load_delay"), v.GetFloat64("duration"))

	var mesh *voice.Mesh
	opts := []syncclient.Option{
		syncclient.WithClock(clk),
		syncclient.WithConfig(clientConfig(cfg)),
		syncclient.WithSearchHandler(func() {
			log.Info().Str("module", "humctl").Msg("end of history, use `video <id>` to pick another")
		}),
	}
	if cfg.Voice {
		mesh = voice.NewMesh(voice.NewPionFactory(voice.DefaultConfiguration()), conn)
		opts = append(opts, syncclient.WithVoiceHandler(func(in protocol.InboundEnvelope) {
			if err := mesh.Handle(in); err != nil {
				log.Warn().Err(err).Str("module", "voice").Str("event", in.Event).Msg("voice signal dropped")
			}
		}))
	}
	r := syncclient.New(player, conn, opts...)
	player.Bind(r)

	go func() {
		err := conn.Run(ctx, func(in protocol.InboundEnvelope) {
			if err := r.HandleEnvelope(in); err != nil {
				log.Warn().Err(err).Str("module", "humctl").Str("event", in.Event).Msg("bad event")
			}
		})
		log.Info().Err(err).Str("module", "humctl").Msg("connection closed")
		cancel()
	}()

	if err := r.Join(cfg.Room); err != nil {
		log.Fatal().Err(err).Msg("failed to join")
	}
	if cfg.Video != "" {
		if err := r.SelectTrack(syncclient.Track{ID: cfg.Video}); err != nil {
			log.Error().Err(err).Msg("failed to select video")
		}
	}
	if mesh != nil {
		if err := mesh.Enable(cfg.Room); err != nil {
			log.Error().Err(err).Msg("failed to enable voice")
		}
		defer mesh.Disable()
	}

	go readCommands(ctx, r, mesh, cfg.Room)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "humctl").Msg("bye")
			return
		case <-ticker.C:
			r.Tick()
		case <-report.C:
			logView(r.View())
		}
	}
}

func clientConfig(cfg *config.Client) syncclient.Config {
	out := syncclient.DefaultConfig()
	out.DriftThreshold = cfg.DriftThreshold
	out.DriftCooldown = cfg.DriftCooldown
	out.EchoWindow = cfg.EchoWindow
	out.MinEmitInterval = cfg.MinEmitInterval
	out.MessageTTL = cfg.MessageTTL
	return out
}

func logView(view syncclient.View) {
	log.Info().
		Str("module", "humctl").
		Str("phase", view.Phase.String()).
		Str("room", view.RoomID).
		Str("video", view.VideoID).
		Str("title", view.Title).
		Bool("playing", view.Playing).
		Float64("position", view.Position).
		Int("members", view.Members).
		Bool("pending", view.Pending).
		Msg("state")
	for _, m := range view.Messages {
		log.Info().Str("module", "humctl").Str("from", m.SenderID).Msg(m.Text)
	}
}

// readCommands drives the reconciler from stdin, one command per line.
func readCommands(ctx context.Context, r *syncclient.Reconciler, mesh *voice.Mesh, roomID string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		var err error
		switch cmd {
		case "":
			continue
		case "play":
			r.Play()
		case "pause":
			r.Pause()
		case "toggle":
			r.TogglePlay()
		case "seek":
			var secs float64
			secs, err = strconv.ParseFloat(arg, 64)
			if err == nil {
				r.SeekTo(secs)
			}
		case "video":
			err = r.SelectTrack(syncclient.Track{ID: arg})
		case "prev":
			err = r.Previous()
		case "next":
			err = r.Next()
		case "say":
			err = r.SendMessage(arg)
		case "voice":
			if mesh == nil {
				log.Warn().Str("module", "humctl").Msg("voice was not enabled at startup")
				continue
			}
			if arg == "off" {
				err = mesh.Disable()
			} else {
				err = mesh.Enable(roomID)
			}
		case "state":
			logView(r.View())
		default:
			log.Warn().Str("module", "humctl").Str("command", cmd).Msg("unknown command")
		}
		if err != nil {
			log.Error().Err(err).Str("module", "humctl").Str("command", cmd).Msg("command failed")
		}
	}
}
