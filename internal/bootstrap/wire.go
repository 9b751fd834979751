package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"jomiage/internal/capture"
	"jomiage/internal/config"
	"jomiage/internal/diagnostics"
	"jomiage/internal/domain"
	"jomiage/internal/gate"
	"jomiage/internal/ports"
	"jomiage/internal/providers/mqtt"
	"jomiage/internal/providers/wsframes"
	"jomiage/internal/rules"
	"jomiage/internal/speech"
	"jomiage/internal/translit"
	"jomiage/internal/usecase"
)

const voiceListTimeout = 3 * time.Second

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Dispatcher *speech.Dispatcher
	Config     config.Config
	Voice      string

	closers []func()
}

// Close stops the session, the dispatcher and every adapter, in that order.
func (s Services) Close() {
	if s.Controller != nil {
		_ = s.Controller.Close()
	}
	if s.Dispatcher != nil {
		_ = s.Dispatcher.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Build wires all backend dependencies for cfg. ctx bounds the lifetime of
// broker and database connections.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (svc Services, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc.Config = cfg
	defer func() {
		if err != nil {
			svc.Close()
			svc = Services{}
		}
	}()

	ruleSet, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return svc, err
	}
	logger.Info("reading rules loaded",
		"path", cfg.Rules.Path,
		"substitutions", ruleSet.SubstitutionCount(),
		"ignore", len(ruleSet.IgnoreList()),
	)

	var client mqtt.Client
	if cfg.UsesMQTT() || cfg.MQTT.BrokerURL != "" {
		mqttCtx, cancel := context.WithCancel(ctx)
		svc.closers = append(svc.closers, cancel)
		pahoClient, err := mqtt.Connect(mqttCtx, mqtt.ClientConfig{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			return svc, fmt.Errorf("connect mqtt: %w", err)
		}
		client = pahoClient
	}

	sinks := diagnostics.Fanout{diagnostics.NewLogSink(logger)}
	if cfg.Diagnostics.DSN != "" {
		recorder, err := diagnostics.Open(ctx, cfg.Diagnostics.DSN, logger)
		if err != nil {
			return svc, fmt.Errorf("open diagnostics store: %w", err)
		}
		svc.closers = append(svc.closers, recorder.Close)
		sinks = append(sinks, recorder)
	}
	if client != nil {
		sinks = append(sinks, mqtt.NewPublisher(client, cfg.MQTT.TopicPrefix, logger))
	}
	var events ports.EventSink = sinks

	engine, voice, err := buildSpeechEngine(ctx, cfg, client, logger)
	if err != nil {
		return svc, err
	}
	svc.Voice = voice
	svc.Dispatcher = speech.NewDispatcher(engine, events)

	var reader ports.Transliterator
	if cfg.Diagnostics.Transliterate {
		kagome, err := translit.NewKagome()
		if err != nil {
			return svc, fmt.Errorf("init transliterator: %w", err)
		}
		reader = translit.WithFallback(kagome, func(text string, err error) {
			events.Error(domain.ErrorCodeTransliteration, fmt.Sprintf("transliterate %q: %v", text, err))
		})
	}

	source, err := buildSource(cfg, client, logger)
	if err != nil {
		return svc, err
	}

	gateCfg := gate.Config{
		ConfidenceThreshold: cfg.Gate.ConfidenceThreshold,
		MinLength:           cfg.Gate.MinLength,
		SimilarityPercent:   cfg.Gate.SimilarityPercent,
		IgnoreList:          mergeIgnore(cfg.Gate.IgnoreList, ruleSet.IgnoreList()),
	}

	svc.Controller = usecase.NewSessionController(
		source,
		svc.Dispatcher,
		usecase.PipelineDeps{
			Rules:          ruleSet,
			Transliterator: reader,
			Events:         events,
		},
		usecase.Config{
			Gate:        gateCfg,
			StopTimeout: cfg.Session.StopTimeout,
		},
	)
	return svc, nil
}

func buildSpeechEngine(ctx context.Context, cfg config.Config, client mqtt.Client, logger *slog.Logger) (ports.SpeechEngine, string, error) {
	switch cfg.Speech.Engine {
	case config.SpeechNone:
		return speech.Silent{}, "", nil
	case config.SpeechMQTT:
		if client == nil {
			return nil, "", errors.New("mqtt speech engine requires MQTT_BROKER_URL")
		}
		speaker := mqtt.NewSpeaker(client, cfg.MQTT.TopicPrefix, mqtt.SpeakerConfig{
			Voice: cfg.Speech.VoiceName,
			Rate:  cfg.Speech.Rate,
		}, logger)
		if err := speaker.Start(); err != nil {
			return nil, "", err
		}
		return speaker, cfg.Speech.VoiceName, nil
	default:
		voice := resolveVoice(ctx, cfg.Speech, logger)
		return speech.NewCommandEngine(cfg.Speech.Command, voice, cfg.Speech.Rate), voice, nil
	}
}

// resolveVoice prefers an explicit name, then language plus index from the
// synthesizer's voice list. "" leaves the system default in place.
func resolveVoice(ctx context.Context, cfg config.SpeechConfig, logger *slog.Logger) string {
	if cfg.VoiceName != "" {
		return cfg.VoiceName
	}
	if filepath.Base(cfg.Command) != "say" {
		return ""
	}

	listCtx, cancel := context.WithTimeout(ctx, voiceListTimeout)
	defer cancel()
	voices, err := speech.ListVoices(listCtx, cfg.Command)
	if err != nil {
		logger.Warn("voice list unavailable; using system default", "error", err)
		return ""
	}
	voice := speech.SelectVoice(voices, cfg.VoiceLanguage, cfg.VoiceIndex)
	logger.Info("voice selected", "voice", voice, "language", cfg.VoiceLanguage, "index", cfg.VoiceIndex)
	return voice
}

func buildSource(cfg config.Config, client mqtt.Client, logger *slog.Logger) (ports.RecognitionSource, error) {
	switch cfg.Source.Kind {
	case config.SourceWebsocket:
		if cfg.Source.WSURL == "" {
			return nil, errors.New("websocket source requires JOMIAGE_WS_URL")
		}
		return wsframes.NewSource(wsframes.Config{
			URL:     cfg.Source.WSURL,
			Token:   cfg.Source.WSToken,
			Capture: cfg.Capture,
		}), nil
	case config.SourceMQTT:
		if client == nil {
			return nil, errors.New("mqtt source requires MQTT_BROKER_URL")
		}
		return mqtt.NewFrameSource(client, cfg.MQTT.TopicPrefix, cfg.Capture, logger), nil
	case config.SourceCommand:
		if cfg.Source.CaptureCommand == "" {
			return nil, errors.New("command source requires JOMIAGE_CAPTURE_COMMAND")
		}
		return capture.NewCommandSource(cfg.Source.CaptureCommand, cfg.Capture, logger), nil
	default:
		return usecase.PushSource{}, nil
	}
}

func mergeIgnore(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, literal := range list {
			if _, ok := seen[literal]; ok {
				continue
			}
			seen[literal] = struct{}{}
			out = append(out, literal)
		}
	}
	return out
}
