package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/commandus/lorawan-storage-sub000/internal/auth"
	"github.com/commandus/lorawan-storage-sub000/internal/backend"
	"github.com/commandus/lorawan-storage-sub000/internal/config"
	"github.com/commandus/lorawan-storage-sub000/internal/dispatch"
	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
)

// verbosity counts repeated -v flags
type verbosity int

func (v *verbosity) String() string   { return strconv.Itoa(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }
func (v *verbosity) Set(s string) error {
	on, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if on {
		*v++
	}
	return nil
}

type options struct {
	configPath string
	listen     string
	code       int
	accessCode string
	backend    string
	verbose    verbosity
	trace      bool
	validate   bool
	showConfig bool
	issueToken bool
}

func parseFlags(args []string) (*options, *flag.FlagSet, error) {
	o := &options{}
	fs := flag.NewFlagSet("lorawan-storage", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "配置文件路径 (.yml/.yaml/.toml)")
	fs.StringVar(&o.listen, "listen", "", "UDP identity listener, interface:port")
	fs.IntVar(&o.code, "code", 0, "account code requests must carry")
	fs.StringVar(&o.accessCode, "access-code", "", "access code, hex")
	fs.StringVar(&o.backend, "backend", "", "storage backend: "+fmt.Sprint(backend.Names()))
	fs.Var(&o.verbose, "v", "verbose output, repeat for trace")
	fs.BoolVar(&o.trace, "vv", false, "trace output")
	fs.BoolVar(&o.validate, "validate", false, "仅验证配置文件")
	fs.BoolVar(&o.showConfig, "show-config", false, "显示配置并退出")
	fs.BoolVar(&o.issueToken, "issue-token", false, "print a bearer token for the HTTP API and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return o, fs, nil
}

// applyFlags overrides cfg with the flags given on the command line
func applyFlags(cfg *config.Config, o *options, fs *flag.FlagSet) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listeners = []config.ListenerConfig{{Service: "identity", Network: "udp", Address: o.listen}}
		case "code":
			cfg.Auth.Code = int32(o.code)
		case "access-code":
			var v config.HexCode
			v, err = config.ParseHexCode(o.accessCode)
			cfg.Auth.AccessCode = v
		case "backend":
			cfg.Storage.Backend = o.backend
		}
	})
	switch {
	case o.trace || o.verbose > 1:
		cfg.Log.Level = "trace"
	case o.verbose == 1:
		cfg.Log.Level = "debug"
	}
	return err
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("无效的日志级别，使用info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// fail prints "error <code>: <message>" and exits
func fail(status protocol.Status, err error) {
	fmt.Fprintf(os.Stderr, "error %d: %v\n", int32(status), err)
	os.Exit(1)
}

func main() {
	o, fs, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fail(protocol.StatusInvalidParam, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fail(protocol.StatusInvalidParam, err)
	}
	if err := applyFlags(cfg, o, fs); err != nil {
		fail(protocol.StatusInvalidParam, err)
	}
	setupLogging(cfg.Log)

	if err := cfg.Validate(); err != nil {
		fail(protocol.StatusInvalidParam, fmt.Errorf("invalid configuration: %w", err))
	}

	// 如果只是显示配置，打印后退出
	if o.showConfig {
		cfg.PrintConfigSummary(os.Stdout)
		return
	}
	if o.validate {
		cfg.PrintConfigSummary(os.Stdout)
		fmt.Println("✅ 配置文件验证通过")
		return
	}
	if o.issueToken {
		if cfg.Auth.JWTSecret == "" {
			fail(protocol.StatusInvalidParam, errors.New("auth.jwt_secret is not set"))
		}
		token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL.Std()).GenerateToken(cfg.Auth.Code, "lorawan-query")
		if err != nil {
			fail(protocol.StatusInternal, err)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail(dispatch.StatusFromError(err), err)
	}
	log.Info().Msg("LoRaWAN storage 已关闭")
}
