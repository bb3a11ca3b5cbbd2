package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newaysecurity/cctv-clocking/internal/attendance"
	"github.com/newaysecurity/cctv-clocking/internal/camera"
	"github.com/newaysecurity/cctv-clocking/internal/config"
	"github.com/newaysecurity/cctv-clocking/internal/facedb"
	"github.com/newaysecurity/cctv-clocking/internal/pipeline"
	"github.com/newaysecurity/cctv-clocking/internal/recognize"
	"github.com/newaysecurity/cctv-clocking/internal/speech"
	"github.com/newaysecurity/cctv-clocking/internal/vision"
	"github.com/newaysecurity/cctv-clocking/internal/web"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the attendance pipeline and dashboard",
	Long: `Start the full system: camera capture, face recognition, attendance
logging, spoken greetings and the web dashboard.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("no-audio", false, "Disable spoken greetings")
	runCmd.Flags().Bool("no-dashboard", false, "Disable the web dashboard")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log := newLogger()

	engine := vision.NewClient(cfg.Recognition.EngineURL, cfg.Recognition.Method)

	db, err := facedb.New(cfg.Recognition.FacesDir, engine, log)
	if err != nil {
		return fmt.Errorf("opening face template store: %w", err)
	}
	if _, err := db.LoadAll(cmd.Context()); err != nil {
		log.Warn("initial face template load failed", "error", err)
	}
	log.Info("face templates loaded", "identities", db.Count())
	db.StartWatch(cfg.Recognition.Watch())
	defer db.StopWatch()

	recognizer := recognize.New(engine, db, cfg.Recognition, log)

	sink, err := attendance.NewSink(cfg.Attendance, log)
	if err != nil {
		return fmt.Errorf("opening attendance backend: %w", err)
	}
	gate := attendance.NewGate(sink, cfg.Recognition.DedupWindow(), log)

	var announcer *speech.Announcer
	if !mustGetBool(cmd, "no-audio") {
		synth, err := speech.NewHTTPSynthesizer(cfg.Audio.SynthURL, cfg.Audio.Language, cfg.Audio.Player)
		if err != nil {
			return fmt.Errorf("configuring speech synthesis: %w", err)
		}
		announcer = speech.New(synth, cfg.Audio, cfg.Recognition.UnknownLabel, log)
		defer announcer.Close()
	}

	cam := camera.New(cfg.Camera, log)
	defer cam.Close()
	if err := cam.Open(); err != nil {
		log.Warn("camera not reachable at startup, capture loop will retry", "error", err)
	}

	pipe := pipeline.New(cam, recognizer, db, gate, announcer, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		pipe.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if mustGetBool(cmd, "no-dashboard") {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
		<-pipeDone
		return nil
	}

	server := web.NewServer(cfg, pipe, db, gate, log)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Dashboard available on http://%s:%d\n", cfg.Dashboard.Host, cfg.Dashboard.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	<-pipeDone
	return nil
}
