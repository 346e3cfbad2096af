package config

import (
	"strings"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils"

	"github.com/livekit/whip-client/pkg/errors"
)

type Config struct {
	Url   string `yaml:"url"`   // required, address of the WHIP endpoint
	Token string `yaml:"token"` // optional Bearer token

	AudioFile string `yaml:"audio_file"` // Ogg/Opus source (required if audio-only)
	VideoFile string `yaml:"video_file"` // IVF/VP8 source (required if video-only)
	LoopMedia bool   `yaml:"loop_media"`

	NoTrickle   bool     `yaml:"no_trickle"`  // put candidates in the SDP offer instead of PATCHing them
	FollowLink  bool     `yaml:"follow_link"` // configure STUN/TURN from the endpoint's Link headers
	StunServer  string   `yaml:"stun_server"` // stun://hostname:port
	TurnServers []string `yaml:"turn_servers"`
	ForceRelay  bool     `yaml:"force_relay"`

	LogLevel       string `yaml:"log_level"`
	PrometheusPort int    `yaml:"prometheus_port"`

	// internal
	NodeID string `yaml:"-"`
}

func NewConfig(confString string) (*Config, error) {
	conf := &Config{
		LogLevel: "info",
		NodeID:   utils.NewGuid("WC_"),
	}
	if confString != "" {
		if err := yaml.Unmarshal([]byte(confString), conf); err != nil {
			return nil, errors.ErrCouldNotParseConfig(err)
		}
	}

	conf.InitLogger()
	return conf, nil
}

func (c *Config) Validate() error {
	if c.Url == "" {
		return errors.ErrNoEndpoint
	}
	if c.AudioFile == "" && c.VideoFile == "" {
		return errors.ErrNoMediaSource
	}

	if c.StunServer != "" && !strings.HasPrefix(c.StunServer, "stun://") {
		logger.Warnw("invalid STUN address, ignoring", nil, "stunServer", c.StunServer)
		c.StunServer = ""
	}
	valid := c.TurnServers[:0]
	for _, ts := range c.TurnServers {
		if !strings.HasPrefix(ts, "turn://") && !strings.HasPrefix(ts, "turns://") {
			logger.Warnw("invalid TURN address, ignoring", nil, "turnServer", ts)
			continue
		}
		valid = append(valid, ts)
	}
	c.TurnServers = valid
	if c.ForceRelay && len(c.TurnServers) == 0 && !c.FollowLink {
		logger.Warnw("can't force TURN, no TURN servers provided", nil)
		c.ForceRelay = false
	}

	return nil
}

func (c *Config) InitLogger() {
	conf := zap.NewProductionConfig()
	if c.LogLevel != "" {
		lvl := zapcore.Level(0)
		if err := lvl.UnmarshalText([]byte(c.LogLevel)); err == nil {
			conf.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	l, _ := conf.Build()
	logger.SetLogger(logger.LogRLogger(zapr.NewLogger(l).WithValues("nodeID", c.NodeID)), "whip-client")
}

// LogStartup prints the effective configuration the way the CLI always has,
// one line per setting, so operators can tell at a glance what the session
// will negotiate.
func (c *Config) LogStartup() {
	token := "(none)"
	if c.Token != "" {
		token = "(set)"
	}
	trickle := "yes (HTTP PATCH)"
	if c.NoTrickle {
		trickle = "no (candidates in SDP offer)"
	}
	logger.Infow("starting WHIP client",
		"endpoint", c.Url,
		"bearerToken", token,
		"trickleICE", trickle,
		"autoSTUNTURN", c.FollowLink,
		"stunServer", c.StunServer,
		"turnServers", c.TurnServers,
		"forceRelay", c.ForceRelay,
		"audioFile", c.AudioFile,
		"videoFile", c.VideoFile,
	)
}
