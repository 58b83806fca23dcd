package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/Mysticmarks/bark/internal/artifacts"
	"github.com/Mysticmarks/bark/internal/client"
	"github.com/Mysticmarks/bark/internal/config"
	"github.com/Mysticmarks/bark/internal/logging"
	"github.com/Mysticmarks/bark/internal/synthesis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.Env)

	newClient := func() *client.Client {
		return client.New(client.Options{
			BaseURL:        cfg.ServerURL,
			APIKey:         cfg.APIKey,
			Logger:         &log,
			RequestTimeout: cfg.RequestTimeout,
		}, synthesis.NewRegistry())
	}

	app := &cli.Command{
		Name:  "barkctl",
		Usage: "submit and track synthesis jobs against a bark service",
		Commands: []*cli.Command{
			{
				Name:  "health",
				Usage: "check service connectivity",
				Action: func(ctx context.Context, _ *cli.Command) error {
					h, err := newClient().Health(ctx)
					if err != nil {
						return err
					}
					return printJSON(h)
				},
			},
			{
				Name:  "capabilities",
				Usage: "show enabled modalities and encoding presets",
				Action: func(ctx context.Context, _ *cli.Command) error {
					caps, err := newClient().Capabilities(ctx)
					if err != nil {
						return err
					}
					return printJSON(caps)
				},
			},
			{
				Name:  "submit",
				Usage: "validate and submit one synthesis request, following the stream when offered",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "prompt", Usage: "text prompt", Required: true},
					&cli.StringFlag{Name: "caption-text", Usage: "override caption body"},
					&cli.StringSliceFlag{Name: "modality", Usage: "requested outputs", Value: []string{"audio"}},
					&cli.BoolFlag{Name: "render-video", Usage: "render a full MP4"},
					&cli.BoolFlag{Name: "dry-run", Usage: "return the plan without generating"},
					&cli.StringFlag{Name: "output-path", Usage: "server-side artifact prefix"},
					&cli.FloatFlag{Name: "text-temp", Value: synthesis.DefaultTextTemp},
					&cli.FloatFlag{Name: "waveform-temp", Value: synthesis.DefaultWaveformTemp},
					&cli.StringFlag{Name: "resolution", Value: synthesis.DefaultResolution, Usage: "video resolution, WIDTHxHEIGHT"},
					&cli.IntFlag{Name: "fps", Value: synthesis.DefaultFPS},
					&cli.BoolFlag{Name: "captions", Value: true, Usage: "burn captions into the video"},
					&cli.BoolFlag{Name: "realtime-layering", Value: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c := newClient()
					in := synthesis.Input{
						Prompt:           cmd.String("prompt"),
						CaptionText:      cmd.String("caption-text"),
						Modalities:       cmd.StringSlice("modality"),
						RenderVideo:      cmd.Bool("render-video"),
						DryRun:           cmd.Bool("dry-run"),
						OutputPath:       cmd.String("output-path"),
						TextTemp:         cmd.Float("text-temp"),
						WaveformTemp:     cmd.Float("waveform-temp"),
						Resolution:       cmd.String("resolution"),
						FPS:              int(cmd.Int("fps")),
						EnableCaptions:   cmd.Bool("captions"),
						RealtimeLayering: cmd.Bool("realtime-layering"),
					}
					job, err := c.SubmitWithEvents(ctx, in, func(ev synthesis.StreamEvent) {
						if ev.Structured() {
							status := string(ev.Update.Status)
							if status == "" {
								status = "(progress)"
							}
							progress := 0
							if ev.Update.Progress != nil {
								progress = *ev.Update.Progress
							}
							fmt.Fprintf(os.Stderr, "%-12s %3d%%\n", status, progress)
						}
					})
					if err != nil {
						return err
					}
					return printJSON(job)
				},
			},
			{
				Name:  "fetch",
				Usage: "download a completed job's artifact to the configured sink",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "job", Usage: "job id", Required: true},
					&cli.StringFlag{Name: "artifact", Usage: "artifact name", Value: "audio"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c := newClient()
					job, err := c.GetJob(ctx, cmd.String("job"))
					if err != nil {
						return err
					}
					retriever, err := artifacts.New(ctx, cfg, log)
					if err != nil {
						return err
					}
					handle, err := retriever.Fetch(ctx, job, cmd.String("artifact"))
					if err != nil {
						return err
					}
					fmt.Println(handle)
					return nil
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("barkctl failed")
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
