package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/whip-client/pkg/config"
	"github.com/livekit/whip-client/pkg/media"
	"github.com/livekit/whip-client/pkg/stats"
	"github.com/livekit/whip-client/pkg/whip"
	"github.com/livekit/whip-client/version"
)

func main() {
	cmd := &cli.Command{
		Name:        "whip-client",
		Usage:       "WHIP client",
		Version:     version.Version,
		Description: "publish media to a WHIP endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "yaml config file",
				Sources: cli.EnvVars("WHIP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config-body",
				Usage:   "yaml config body",
				Sources: cli.EnvVars("WHIP_CONFIG_BODY"),
			},
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Usage:   "address of the WHIP endpoint (required)",
			},
			&cli.StringFlag{
				Name:    "token",
				Aliases: []string{"t"},
				Usage:   "authentication Bearer token to use (optional)",
			},
			&cli.StringFlag{
				Name:    "audio",
				Aliases: []string{"A"},
				Usage:   "Ogg/Opus file to stream as audio (required if audio-only)",
			},
			&cli.StringFlag{
				Name:    "video",
				Aliases: []string{"V"},
				Usage:   "IVF/VP8 file to stream as video (required if video-only)",
			},
			&cli.BoolFlag{
				Name:  "loop",
				Usage: "loop the media files instead of stopping at EOS",
			},
			&cli.BoolFlag{
				Name:    "no-trickle",
				Aliases: []string{"n"},
				Usage:   "don't trickle candidates, put them in the SDP offer",
			},
			&cli.BoolFlag{
				Name:    "follow-link",
				Aliases: []string{"f"},
				Usage:   "configure STUN/TURN servers from the endpoint's Link headers",
			},
			&cli.StringFlag{
				Name:    "stun-server",
				Aliases: []string{"S"},
				Usage:   "STUN server to use, if any (stun://hostname:port)",
			},
			&cli.StringSliceFlag{
				Name:    "turn-server",
				Aliases: []string{"T"},
				Usage:   "TURN server to use, if any; can be passed multiple times (turn(s)://username:password@host:port?transport=[udp,tcp])",
			},
			&cli.BoolFlag{
				Name:    "force-turn",
				Aliases: []string{"F"},
				Usage:   "force using a relay in case TURN servers are provided",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "logging level",
			},
			&cli.IntFlag{
				Name:  "prometheus-port",
				Usage: "port to expose prometheus metrics on (0 to disable)",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	conf, err := getConfig(cmd)
	if err != nil {
		return err
	}
	if err = conf.Validate(); err != nil {
		return err
	}
	conf.LogStartup()

	monitor := stats.NewMonitor()
	if err = monitor.Start(conf); err != nil {
		return err
	}
	defer monitor.Stop()

	engine := media.NewPionEngine(conf)
	client := whip.NewClient(conf, engine, monitor)

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range stopChan {
			logger.Infow("received signal", "signal", sig)
			if client.HandleSignal() {
				logger.Errorw("forcing exit without teardown", nil)
				os.Exit(1)
			}
		}
	}()

	return client.Run(ctx)
}

func getConfig(cmd *cli.Command) (*config.Config, error) {
	configBody := cmd.String("config-body")
	if configBody == "" {
		if configFile := cmd.String("config"); configFile != "" {
			content, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			configBody = string(content)
		}
	}

	conf, err := config.NewConfig(configBody)
	if err != nil {
		return nil, err
	}

	// flags take precedence over the config body
	if cmd.String("url") != "" {
		conf.Url = cmd.String("url")
	}
	if cmd.String("token") != "" {
		conf.Token = cmd.String("token")
	}
	if cmd.String("audio") != "" {
		conf.AudioFile = cmd.String("audio")
	}
	if cmd.String("video") != "" {
		conf.VideoFile = cmd.String("video")
	}
	if cmd.Bool("loop") {
		conf.LoopMedia = true
	}
	if cmd.Bool("no-trickle") {
		conf.NoTrickle = true
	}
	if cmd.Bool("follow-link") {
		conf.FollowLink = true
	}
	if cmd.String("stun-server") != "" {
		conf.StunServer = cmd.String("stun-server")
	}
	if turnServers := cmd.StringSlice("turn-server"); len(turnServers) > 0 {
		conf.TurnServers = turnServers
	}
	if cmd.Bool("force-turn") {
		conf.ForceRelay = true
	}
	if cmd.Int("prometheus-port") > 0 {
		conf.PrometheusPort = int(cmd.Int("prometheus-port"))
	}
	if cmd.String("log-level") != "" {
		conf.LogLevel = cmd.String("log-level")
		conf.InitLogger()
	}

	return conf, nil
}
