package realtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/config"
	"github.com/travigo/livetrains/pkg/redis_client"
	"github.com/urfave/cli/v2"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   config.DefaultPath,
	Usage:   "path to the YAML configuration file",
}

// signalContext is cancelled on the first SIGINT/SIGTERM, a second one exits hard
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signals // wait for signal
		cancel()

		<-signals // hard exit on second signal (in case shutdown gets stuck)
		os.Exit(1)
	}()

	return ctx, func() {
		signal.Stop(signals)
		cancel()
	}
}

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "realtime",
		Usage: "Live train positions from the portalpasazera.pl map",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "stream positions into the configured sinks and serve the web API",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "listen",
						Usage: "listen target for the web server, overrides api.listen",
					},
					&cli.BoolFlag{
						Name:  "no-api",
						Usage: "do not start the web server",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					listen := cfg.API.Listen
					if c.IsSet("listen") {
						listen = c.String("listen")
					}
					if c.Bool("no-api") {
						listen = ""
					}

					service, err := NewService(cfg)
					if err != nil {
						return err
					}

					ctx, stop := signalContext()
					defer stop()

					return service.Run(ctx, listen)
				},
			},
			{
				Name:  "cleaner",
				Usage: "run the queue cleaner for the position queue",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					connection, err := redis_client.Connect(cfg.Redis)
					if err != nil {
						return err
					}
					defer connection.Close()

					ctx, stop := signalContext()
					defer stop()

					RunCleaner(ctx, connection.Queue, cleanerInterval)

					return nil
				},
			},
			{
				Name:      "inspect",
				Usage:     "decode a captured raw stream file and print the result",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "gps-filter",
						Value: true,
						Usage: "prefer GPS tracked entries when deduplicating",
					},
				},
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return cli.Exit("inspect expects exactly one capture file", 1)
					}

					file, err := os.Open(c.Args().First())
					if err != nil {
						return err
					}
					defer file.Close()

					_, err = Inspect(file, os.Stdout, c.Bool("gps-filter"))
					return err
				},
			},
			{
				Name:  "export",
				Usage: "connect, wait for the first published batch and write it as CSV",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "output",
						Aliases:  []string{"o"},
						Required: true,
						Usage:    "CSV file to write",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Value: 2 * time.Minute,
						Usage: "how long to wait for the first batch",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					orchestrator, err := NewOrchestrator(cfg, nil)
					if err != nil {
						return err
					}

					ctx, stop := signalContext()
					defer stop()
					ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
					defer cancel()

					positions, err := FirstBatch(ctx, orchestrator)
					if err != nil {
						return err
					}

					file, err := os.Create(c.String("output"))
					if err != nil {
						return err
					}
					defer file.Close()

					if err := WriteCSV(positions, file); err != nil {
						return err
					}

					log.Info().Int("trains", len(positions)).Str("output", c.String("output")).Msg("Exported positions")

					return nil
				},
			},
		},
	}
}
