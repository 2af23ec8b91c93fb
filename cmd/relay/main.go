package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"meeting-relay/internal/analysis"
	"meeting-relay/internal/app"
	"meeting-relay/internal/audio"
	"meeting-relay/internal/config"
	"meeting-relay/internal/events"
	"meeting-relay/internal/httpapi"
	"meeting-relay/internal/observability"
	"meeting-relay/internal/session"
	"meeting-relay/internal/transcript"
	"meeting-relay/internal/transport"
)

func main() {
	audioFile := flag.String("audio", "", "Path to 16kHz 16-bit mono WAV file to stream (default: synthetic tone)")
	toneSeconds := flag.Int("tone-seconds", 10, "Duration of the synthetic tone when no WAV file is given")
	mode := flag.String("mode", "solo", "Session mode: solo or collaborative")
	role := flag.String("role", "", "Collaborative role: host or participant")
	meetingId := flag.String("meeting", "", "Meeting ID for collaborative sessions")
	flag.Parse()

	cfg := config.Load()
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application start failed")
	}
	defer application.Shutdown()

	publisher := events.New(&events.Config{
		Enabled:     cfg.Kafka.Enabled,
		Brokers:     cfg.Kafka.Brokers,
		TopicCommit: cfg.Kafka.TopicCommit,
		TopicFinal:  cfg.Kafka.TopicFinal,
		Principal:   cfg.Kafka.Principal,
	})
	defer publisher.Close()

	obs := observability.NewServer(":" + cfg.Observability.MetricsPort)
	obs.Start()

	sessCfg := session.DefaultConfig()
	sessCfg.MeetingID = *meetingId
	sessCfg.TranscribeURL = cfg.Backend.TranscribeWSURL
	sessCfg.BroadcastURL = cfg.Backend.BroadcastWSURL
	sessCfg.FinalizeGrace = cfg.Session.FinalizeGrace
	sessCfg.PingInterval = cfg.Session.PingInterval
	sessCfg.MidTierPolicy = transcript.ParseMidTierPolicy(cfg.Session.MidTierPolicy)
	sessCfg.Framer = audio.FramerConfig{
		SampleRate:       cfg.Audio.SampleRateHz,
		FrameSamples:     cfg.Audio.FrameSamples,
		SilenceThreshold: float32(cfg.Audio.SilenceThreshold),
	}

	if *mode == "collaborative" {
		sessCfg.Mode = session.ModeCollaborative
		switch *role {
		case "host":
			sessCfg.Role = session.RoleHost
		case "participant":
			sessCfg.Role = session.RoleParticipant
		default:
			log.Fatal().Str("role", *role).Msg("Collaborative mode requires -role host or participant")
		}
	}

	var source audio.CaptureSource
	if sessCfg.Role != session.RoleParticipant {
		if *audioFile != "" {
			source = audio.NewWAVSource(*audioFile, true)
		} else {
			samples := cfg.Audio.SampleRateHz * *toneSeconds
			source = audio.NewToneSource(cfg.Audio.SampleRateHz, 440, 0.3, samples, true)
		}
	}

	ctrl := session.NewController(sessCfg, session.Deps{
		Source:    source,
		Dialer:    &transport.WebsocketDialer{HandshakeTimeout: 10 * time.Second},
		Analysis:  analysis.NewClient(analysis.Config{BaseURL: cfg.Backend.AnalysisURL}),
		Publisher: publisher,
	})

	statusServer := &http.Server{
		Addr: ":" + cfg.Service.HTTPPort,
		Handler: httpapi.NewRouter(func() httpapi.SessionSource {
			return ctrl
		}),
	}
	go func() {
		log.Info().Str("addr", statusServer.Addr).Msg("Status server listening")
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Status server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrl.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	stopped := false
	for {
		select {
		case <-sig:
			if stopped {
				log.Warn().Msg("Second signal, aborting")
				cancel()
				<-ctrl.Done()
				shutdownHTTP(statusServer, obs)
				return
			}
			stopped = true
			log.Info().Msg("Signal received, stopping recording")
			ctrl.Stop()

		case <-ticker.C:
			state := ctrl.State()
			if !state.IsTerminal() {
				// A host/solo session also ends on its own once the capture
				// source drains; stop it then.
				continue
			}

			if state == session.StateAnalysisReady {
				result := ctrl.Result()
				log.Info().
					Str("summary", result.Summary).
					Strs("actionItems", result.ActionItems).
					Int("speakers", len(result.Speakers)).
					Msg("Session complete")
			} else if err := ctrl.Err(); err != nil {
				log.Error().Err(err).Msg("Session ended in error")
			}

			ctrl.Reset()
			<-ctrl.Done()
			shutdownHTTP(statusServer, obs)
			return
		}
	}
}

func shutdownHTTP(statusServer *http.Server, obs *observability.Server) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = statusServer.Shutdown(shutdownCtx)
	_ = obs.Shutdown(shutdownCtx)
}
