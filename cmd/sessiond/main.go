package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"

	"github.com/devicelab/sessiond/internal/conn"
	"github.com/devicelab/sessiond/internal/crashlog"
	"github.com/devicelab/sessiond/internal/environment"
	"github.com/devicelab/sessiond/internal/service"
	"github.com/devicelab/sessiond/internal/session"
	"github.com/devicelab/sessiond/pkg/outcome"
)

func main() {
	cmd := &cli.Command{
		Name:  "sessiond",
		Usage: "orchestrate test-execution sessions and arbitrate their outcomes",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			level := slog.LevelInfo
			if c.Bool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
				Level:      level,
				TimeFormat: time.TimeOnly,
			})))
			return ctx, nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			runCmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("sessiond failed", "error", err)
		os.Exit(1)
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "receive session requests from SQS and stream events over NATS",
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := environment.ReadEnvConfig()
			if err != nil {
				return fmt.Errorf("failed to read environment: %w", err)
			}
			defaults, err := environment.ReadDefaults(env.DefaultsPath)
			if err != nil {
				return fmt.Errorf("failed to read session defaults: %w", err)
			}

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
				awsconfig.WithRegion(env.AwsRegion))
			if err != nil {
				return fmt.Errorf("failed to load AWS config: %w", err)
			}
			sqsClient := sqs.NewFromConfig(awsCfg)

			nc, err := nats.Connect(env.NatsUrl)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS at %s: %w", env.NatsUrl, err)
			}
			defer nc.Close()

			crashes := crashlog.NewStore(env.CrashDir, slog.Default())
			svc := service.New(sqsClient, env.SqsQueueUrl, nc, crashes, defaults, slog.Default())

			err = svc.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run a single session against the given hosts and print its outcome",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bundle-addr", Required: true, Usage: "test-bundle host address"},
			&cli.StringFlag{Name: "daemon-addr", Required: true, Usage: "device test daemon address"},
			&cli.StringFlag{Name: "host-process", Usage: "test host process name for crash correlation"},
			&cli.StringFlag{Name: "crash-dir", Value: "/var/crash", Usage: "crash reports directory"},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "session watchdog interval"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := slog.Default()
			sess := session.New(session.Config{
				ID:               uuid.NewString(),
				Timeout:          c.Duration("timeout"),
				HostProcess:      c.String("host-process"),
				CrashWindow:      time.Minute,
				CorrelatorBudget: 5 * time.Second,
				Correlator:       crashlog.NewStore(c.String("crash-dir"), log),
				Sources: []session.Source{
					conn.NewBundleMonitor(c.String("bundle-addr"), 10*time.Second, log),
					conn.NewDaemonMonitor(c.String("daemon-addr"), 10*time.Second, log),
				},
				Logger: log,
			})

			res, err := sess.Run(ctx)
			if err != nil {
				return err
			}
			printOutcome(res)
			if !res.DidEndSuccessfully() {
				os.Exit(1)
			}
			return nil
		},
	}
}

func printOutcome(res *outcome.Outcome) {
	switch res.Kind() {
	case outcome.KindSuccess:
		color.Green("%s", res)
	case outcome.KindClientDisconnect:
		color.Yellow("%s", res)
	default:
		color.Red("%s", res)
	}
	if crash := res.Crash(); crash != nil {
		fmt.Printf("crash report: %s (%s)\n", crash.Path, crash.Timestamp.Format(time.RFC3339))
	}
}
