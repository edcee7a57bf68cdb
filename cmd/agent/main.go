package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/lokutor-pipeline/pkg/action"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/events"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/intent"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/pipeline"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/providers/asr"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/providers/classifier"
	"github.com/lokutor-ai/lokutor-pipeline/pkg/session"
)

const SampleRate = 16000

func main() {
	mic := flag.Bool("mic", true, "capture from the default microphone")
	loopback := flag.Bool("loopback", false, "capture system loopback audio instead of the microphone")
	mode := flag.String("mode", "heuristic", "intent detection strategy: heuristic | llm | parallel")
	recordTo := flag.String("record", "", "optional path to write a JSONL session recording")
	speechGate := flag.Bool("speech-gate", false, "skip forwarding confirmed-silent PCM to the ASR provider")
	flag.Parse()

	if *loopback {
		*mic = false
	}
	if !*mic && !*loopback {
		log.Fatal("Error: one of --mic or --loopback must be selected")
	}

	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	logger := events.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	asrProvider := newASRProvider(logger)

	// onAction forwards to the Pipeline's recorder hook once p exists; the
	// router itself is constructed first since the Pipeline needs it.
	var onAction func(events.ActionEvent)
	router := action.New(action.DefaultOptions(), func(e events.ActionEvent) {
		if onAction != nil {
			onAction(e)
		}
	})
	registerActionHandlers(router)

	var recorder *session.Recorder
	if *recordTo != "" {
		r, err := session.NewRecorder(*recordTo, session.Options{SampleRate: SampleRate, Logger: logger})
		if err != nil {
			log.Fatalf("failed to open recording %s: %v", *recordTo, err)
		}
		recorder = r
		defer recorder.Close()
		fmt.Printf("Recording session to %s\n", filepath.Clean(*recordTo))
	}

	cfg := pipeline.DefaultConfig()
	cfg.SampleRate = SampleRate
	cfg.SpeechGateEnabled = *speechGate

	p := pipeline.New(asrProvider, makeDetectorFactory(*mode, logger), router, recorder, logger, cfg)
	onAction = p.OnAction

	fmt.Printf("Mode: %s | Sample rate: %dHz | ASR: %s\n", *mode, SampleRate, asrProvider.Name())
	source := "microphone"
	if *loopback {
		source = "loopback"
	}
	fmt.Printf("Audio source: %s\n", source)
	fmt.Println("Press Ctrl+C to exit")

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	deviceType := malgo.Capture
	if *loopback {
		deviceType = malgo.Loopback
	}
	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = SampleRate
	deviceConfig.Alsa.NoMMap = 1

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			p.Feed(pInput)
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Printf("\nShutting down...\n")
		cancel()
	}()

	if err := p.Run(ctx); err != nil {
		logger.Error("pipeline stopped with error", "error", err)
		os.Exit(2)
	}
}

func newASRProvider(logger events.Logger) asr.Provider {
	providerName := os.Getenv("ASR_PROVIDER")
	if providerName == "" {
		providerName = "deepgram"
	}

	switch providerName {
	case "groq":
		key := requireEnv("GROQ_API_KEY")
		return asr.NewBatchProvider(asr.NewGroqASR(key, os.Getenv("GROQ_ASR_MODEL")), 2*time.Second)
	case "openai":
		key := requireEnv("OPENAI_API_KEY")
		return asr.NewBatchProvider(asr.NewOpenAIASR(key, os.Getenv("OPENAI_ASR_MODEL")), 2*time.Second)
	case "assemblyai":
		key := requireEnv("ASSEMBLYAI_API_KEY")
		return asr.NewBatchProvider(asr.NewAssemblyAIASR(key), 2*time.Second)
	case "deepgram":
		fallthrough
	default:
		key := requireEnv("DEEPGRAM_API_KEY")
		return asr.NewDeepgramASR(key)
	}
}

func makeDetectorFactory(mode string, logger events.Logger) func(intent.Emitter) intent.Detector {
	return func(emitter intent.Emitter) intent.Detector {
		switch mode {
		case "llm":
			return intent.NewLLMDetector(newClassifier(logger), emitter, intent.DefaultLLMOptions())
		case "parallel":
			return intent.NewParallelDetector(newClassifier(logger), emitter, intent.DefaultParallelOptions())
		case "heuristic":
			fallthrough
		default:
			return intent.NewHeuristicDetector(emitter)
		}
	}
}

func newClassifier(logger events.Logger) classifier.Classifier {
	providerName := os.Getenv("CLASSIFIER_PROVIDER")
	if providerName == "" {
		providerName = "anthropic"
	}

	switch providerName {
	case "openai":
		return classifier.NewOpenAIClassifier(requireEnv("OPENAI_API_KEY"), os.Getenv("OPENAI_CLASSIFIER_MODEL"))
	case "google":
		return classifier.NewGoogleClassifier(requireEnv("GOOGLE_API_KEY"), os.Getenv("GOOGLE_CLASSIFIER_MODEL"))
	case "anthropic":
		fallthrough
	default:
		return classifier.NewAnthropicClassifier(requireEnv("ANTHROPIC_API_KEY"), os.Getenv("ANTHROPIC_CLASSIFIER_MODEL"))
	}
}

func requireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("Error: %s must be set.", name)
	}
	return v
}

// registerActionHandlers wires the five imperative subtypes to no-op
// placeholders; a real deployment replaces these with calls into whatever
// downstream system consumes Stop/Repeat/Continue/StartOver/Generate.
func registerActionHandlers(r *action.Router) {
	r.RegisterHandler(events.SubtypeStop, func(e events.ActionEvent) {
		fmt.Printf("\r\033[K[ACTION] Stop\n")
	})
	r.RegisterHandler(events.SubtypeRepeat, func(e events.ActionEvent) {
		fmt.Printf("\r\033[K[ACTION] Repeat\n")
	})
	r.RegisterHandler(events.SubtypeContinue, func(e events.ActionEvent) {
		fmt.Printf("\r\033[K[ACTION] Continue\n")
	})
	r.RegisterHandler(events.SubtypeStartOver, func(e events.ActionEvent) {
		fmt.Printf("\r\033[K[ACTION] StartOver\n")
	})
	r.RegisterHandler(events.SubtypeGenerate, func(e events.ActionEvent) {
		fmt.Printf("\r\033[K[ACTION] Generate\n")
	})
}
