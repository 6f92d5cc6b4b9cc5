package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/fatiguelab/dialctl/internal/admin"
	"github.com/fatiguelab/dialctl/internal/config"
	"github.com/fatiguelab/dialctl/internal/engine"
	"github.com/fatiguelab/dialctl/internal/logging"
	"github.com/fatiguelab/dialctl/internal/observability"
	"github.com/fatiguelab/dialctl/internal/payload"
	"github.com/fatiguelab/dialctl/internal/peerstore"
	"github.com/fatiguelab/dialctl/internal/protocol"
	"github.com/fatiguelab/dialctl/internal/security"
	"github.com/fatiguelab/dialctl/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/dialctl.toml", "path to TOML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "dialctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	logging.ConfigureRuntime()
	observability.InitLogger("dialctl")
	observability.RegisterMetrics()

	cfg, err := config.LoadDialConfig(configPath)
	if err != nil {
		return err
	}

	secret, err := security.LoadSecret()
	if err != nil {
		return err
	}

	store := peerstore.New(
		peerstore.FileBackend{Path: cfg.Store.Path},
		cfg.FallbackAddr(),
		protocol.DeviceFatigueTester,
		cfg.Radio.FallbackName,
	)

	book := make([]transport.UDPEndpoint, 0, len(cfg.Radio.Peers))
	for _, peer := range cfg.Radio.Peers {
		addr, _ := protocol.ParseAddr(peer.Addr)
		book = append(book, transport.UDPEndpoint{Addr: addr, Endpoint: peer.Endpoint})
	}
	driver, err := transport.NewUDPDriver(cfg.LocalAddr(), cfg.Radio.Bind, book)
	if err != nil {
		return err
	}

	events := make(chan engine.Event, 32)
	eng := engine.New(engine.Options{
		Driver:    driver,
		Store:     store,
		Secret:    secret,
		LocalType: protocol.DeviceRemote,
		PeerType:  protocol.DeviceFatigueTester,
		Events:    events,
	})
	if err := eng.Init(); err != nil {
		return err
	}
	defer eng.Close()

	go consumeEvents(events)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())
	origins := cfg.CorsOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	admin.NewServer(cfg.Name, eng).RegisterRoutes(r)

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(cfg.AdminAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("dialctl: shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// consumeEvents drains authenticated frames and surfaces them in the log.
// A real handheld renders these on its display instead.
func consumeEvents(events <-chan engine.Event) {
	for evt := range events {
		switch evt.Type {
		case protocol.MsgStatusUpdate:
			status, err := payload.ParseStatus(evt.Payload)
			if err != nil {
				log.Warn().Err(err).Str("src", evt.Src.String()).Msg("dialctl: bad status payload")
				continue
			}
			log.Info().Uint32("cycle", status.CycleNumber).
				Str("state", status.State.String()).
				Uint8("err_code", status.ErrCode).
				Uint8("seq", evt.SequenceID).
				Msg("dialctl: status update")
		case protocol.MsgBoundsResult:
			result, err := payload.ParseBoundsResult(evt.Payload)
			if err != nil {
				log.Warn().Err(err).Str("src", evt.Src.String()).Msg("dialctl: bad bounds payload")
				continue
			}
			log.Info().Bool("ok", result.OK).Bool("bounded", result.Bounded).
				Bool("cancelled", result.Cancelled).
				Float32("min_deg", result.MinDegreesFromCenter).
				Float32("max_deg", result.MaxDegreesFromCenter).
				Msg("dialctl: bounds result")
		case protocol.MsgConfigResponse:
			cfg, err := payload.ParseConfig(evt.Payload)
			if err != nil {
				log.Warn().Err(err).Str("src", evt.Src.String()).Msg("dialctl: bad config payload")
				continue
			}
			log.Info().Uint32("cycles", cfg.CycleAmount).
				Uint32("time_per_cycle_s", cfg.TimePerCycleSec).
				Uint32("dwell_s", cfg.DwellTimeSec).
				Uint8("bounds_method", cfg.BoundsMethod).
				Msg("dialctl: config response")
		case protocol.MsgPairingConfirm:
			log.Info().Str("peer", evt.Src.String()).
				Str("name", string(evt.Payload)).
				Msg("dialctl: paired")
		case protocol.MsgTestComplete:
			log.Info().Str("src", evt.Src.String()).Msg("dialctl: test complete")
		default:
			log.Debug().Str("type", evt.Type.String()).
				Str("src", evt.Src.String()).
				Int("len", len(evt.Payload)).
				Msg("dialctl: event")
		}
	}
}
