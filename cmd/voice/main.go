package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lokutor-ai/lokutor-realtime/pkg/device"
	"github.com/lokutor-ai/lokutor-realtime/pkg/realtime"
)

var (
	cfgFile      string
	modeArg      string
	recordDir    string
	noAutoStart  bool
	localBargeIn bool
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "Note: No .env file found, using system environment variables")
	}

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "voice",
		Short: "Talk to a realtime voice relay from the terminal",
		Long: `voice captures the default microphone, streams it to the relay and plays
the assistant's speech back. Speaking over the assistant interrupts it.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	root.Flags().StringVarP(&modeArg, "mode", "m", "", "session mode (form_creation or form_filling)")
	root.Flags().StringVar(&recordDir, "record", "", "write each assistant response as a WAV file into this directory")
	root.Flags().BoolVar(&noAutoStart, "no-autostart", false, "do not open the microphone until Enter is pressed")
	root.Flags().BoolVar(&localBargeIn, "local-barge-in", false, "interrupt playback as soon as local speech is detected")

	root.AddCommand(sessionConfigCmd())
	return root
}

func sessionConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-config",
		Short: "Print the session configuration published by the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			raw, err := realtime.NewHTTPCredentialSource(cfg.Server.URL).SessionConfig(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		},
	}
}

func loadConfig() (*Config, error) {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if modeArg != "" {
		cfg.Session.Mode = modeArg
	}
	if recordDir != "" {
		cfg.Record.Dir = recordDir
	}
	if noAutoStart {
		autoStart := false
		cfg.Session.AutoStart = &autoStart
	}
	if localBargeIn {
		cfg.Audio.LocalBargeIn = true
	}
	return cfg, nil
}

func run(parent context.Context, cfg *Config) error {
	logger := setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	audioCtx, err := device.NewContext()
	if err != nil {
		return err
	}
	defer audioCtx.Close()

	rc := cfg.Realtime()
	client := realtime.NewClient(rc, realtime.Options{
		NewInput:  func() realtime.InputDevice { return audioCtx.NewInput(rc.FrameSize) },
		NewOutput: audioCtx.NewOutput,
		Logger:    logger,
	})
	defer client.Close()

	var recorder *Recorder
	if cfg.Record.Dir != "" {
		recorder, err = NewRecorder(cfg.Record.Dir, rc.SampleRate)
		if err != nil {
			return err
		}
	}

	done := make(chan struct{})
	ended := make(chan realtime.ConnectionState, 1)
	go func() {
		defer close(done)
		printEvents(client.Events(), recorder, logger, ended)
	}()

	fmt.Printf("Connecting to %s (mode %s)...\n", rc.RelayURL, rc.Mode)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Println("Connected. Press Ctrl+C to exit.")

	if !rc.AutoStartRecording {
		fmt.Println("Press Enter to start the microphone.")
		go func() {
			var line string
			fmt.Scanln(&line)
			if err := client.StartRecording(ctx); err != nil {
				logger.Error("failed to start recording", "error", err)
			}
		}()
	}

	var result error
	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
	case st := <-ended:
		if st == realtime.StateError {
			result = errors.New("session ended with an error")
		}
	}

	client.Close()
	<-done
	return result
}

func printEvents(events <-chan realtime.Event, recorder *Recorder, logger *slog.Logger, ended chan<- realtime.ConnectionState) {
	for ev := range events {
		switch ev.Type {
		case realtime.SessionStarted:
			logger.Info("session started", "sessionID", ev.Data)
		case realtime.RecordingStarted:
			fmt.Println("[mic on]")
		case realtime.RecordingStopped:
			fmt.Println("[mic off]")
		case realtime.UserTranscript:
			fmt.Printf("\nYou: %s\n", ev.Data)
		case realtime.ResponseStarted:
			fmt.Print("Assistant: ")
		case realtime.AssistantTranscriptDelta:
			fmt.Print(ev.Data.(realtime.TranscriptDelta).Delta)
		case realtime.ResponseEnded:
			fmt.Println()
		case realtime.Interrupted:
			fmt.Println(" [interrupted]")
		case realtime.ErrorEvent:
			logger.Error("session error", "error", ev.Data)
		case realtime.ConnectionStateChanged:
			st := ev.Data.(realtime.ConnectionState)
			logger.Debug("connection state", "state", st)
			if st == realtime.StateDisconnected || st == realtime.StateError {
				select {
				case ended <- st:
				default:
				}
			}
		}

		if recorder != nil {
			path, err := recorder.Handle(ev)
			if err != nil {
				logger.Warn("recording failed", "error", err)
			} else if path != "" {
				logger.Info("response recorded", "path", path)
			}
		}
	}
}
