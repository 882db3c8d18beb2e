// Package main implements a simple CLI that can start the http proxy around
// a coordinator. The embedded router is the in-memory one, which makes this
// binary a playground for the delivery lifecycle rather than a mesh node.
package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/lxmfkit/courier/courier"
	"github.com/lxmfkit/courier/courier/impl"
	"github.com/lxmfkit/courier/gui/httpnode"
	"github.com/lxmfkit/courier/registry/standard"
	"github.com/lxmfkit/courier/router"
	"github.com/lxmfkit/courier/router/channel"
	"github.com/lxmfkit/courier/types"
	"github.com/rs/zerolog"
	urfave "github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
)

var courierFactory = impl.NewCourier

var (
	// defaultLevel can be changed to set the desired level of the logger
	defaultLevel = zerolog.InfoLevel

	// logout is the logger configuration
	logout = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	log zerolog.Logger
)

func init() {
	if os.Getenv("COURIERLOG") == "warn" {
		defaultLevel = zerolog.WarnLevel
	}

	if os.Getenv("COURIERLOG") == "no" {
		defaultLevel = zerolog.Disabled
	}

	log = zerolog.New(logout).
		Level(defaultLevel).
		With().Timestamp().Logger().
		With().Str("role", "cli courier").Logger()
}

func main() {
	app := &urfave.App{
		Name:  "Courier controller",
		Usage: "Please use the start command",

		Commands: []*urfave.Command{
			{
				Name:  "start",
				Usage: "starts the coordinator and proxy",
				Flags: []urfave.Flag{
					&urfave.StringFlag{
						Name:  "proxyaddr",
						Usage: "addr of the proxy",
						Value: "127.0.0.1:0",
					},
					&urfave.DurationFlag{
						Name:  "timeout",
						Usage: "opportunistic delivery timeout",
						Value: time.Second * 30,
					},
					&urfave.DurationFlag{
						Name:  "checkinterval",
						Usage: "watchdog wake interval",
						Value: time.Second * 10,
					},
					&urfave.DurationFlag{
						Name:  "trackingttl",
						Usage: "lifetime of propagation records",
						Value: time.Hour * 24,
					},
					&urfave.IntFlag{
						Name:  "maxrelayretries",
						Usage: "number of distinct relays tried before giving up",
						Value: 3,
					},
					&urfave.StringFlag{
						Name:  "relay",
						Usage: "hex address of the initial propagation relay",
						Value: "",
					},
					&urfave.BoolFlag{
						Name: "interactive",
						Usage: "prompt on the terminal for relay substitutions " +
							"instead of answering over HTTP",
						Value: false,
					},
				},
				Action: start,
			},
		},

		Action: func(c *urfave.Context) error {
			urfave.ShowAppHelpAndExit(c, 1)
			return nil
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Msg(err.Error())
	}
}

// start starts the http proxy around a coordinator wired to the in-memory
// router.
func start(c *urfave.Context) error {
	rt := channel.NewRouter()
	reg := standard.NewRegistry()

	var activeRelay router.RelayAddr

	if c.String("relay") != "" {
		var err error

		activeRelay, err = router.ParseRelayAddr(c.String("relay"))
		if err != nil {
			return xerrors.Errorf("failed to parse relay: %v", err)
		}
	}

	var requester *promptRequester

	if c.Bool("interactive") {
		requester = &promptRequester{}
	}

	conf := courier.Configuration{
		Router: rt,
		Status: reg,

		OpportunisticTimeout:  c.Duration("timeout"),
		CheckInterval:         c.Duration("checkinterval"),
		PropagatedTrackingTTL: c.Duration("trackingttl"),
		MaxRelayRetries:       c.Int("maxrelayretries"),
		ActiveRelay:           activeRelay,
	}

	if requester != nil {
		conf.RelayRequester = requester
	}

	node := courierFactory(conf)

	if requester != nil {
		requester.setNode(node)
	}

	reg.RegisterNotify(func(evt types.StatusEvent) error {
		log.Info().Msgf("status event: %s", evt)
		return nil
	})

	proxy := httpnode.NewHTTPNode(node, conf)

	notify := make(chan os.Signal, 1)
	signal.Notify(notify,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	err := proxy.StartAndListen(c.String("proxyaddr"))
	if err != nil {
		return xerrors.Errorf("failed to start and listen: %v", err)
	}

	<-notify
	log.Info().Msg("closing...")

	err = proxy.StopAndClose()
	if err != nil {
		return xerrors.Errorf("failed to close: %v", err)
	}

	return nil
}

// promptRequester asks the operator for a replacement relay on the terminal.
//
// - implements courier.RelayRequester
type promptRequester struct {
	sync.Mutex
	node courier.Courier
}

func (p *promptRequester) setNode(node courier.Courier) {
	p.Lock()
	p.node = node
	p.Unlock()
}

// RequestAlternativeRelay implements courier.RelayRequester. The prompt runs
// in its own goroutine: the coordinator must never wait on the operator.
func (p *promptRequester) RequestAlternativeRelay(messageHash string, excludeRelays []string) {
	go func() {
		p.Lock()
		node := p.node
		p.Unlock()

		if node == nil {
			return
		}

		log.Info().Str("message", messageHash).
			Strs("exclude", excludeRelays).
			Msg("relay substitution needed")

		var answer string

		err := survey.AskOne(&survey.Input{
			Message: "Enter a replacement relay (hex), empty for none:",
		}, &answer)
		if err != nil || answer == "" {
			node.OnAlternativeRelay(nil)
			return
		}

		relay, err := router.ParseRelayAddr(answer)
		if err != nil {
			log.Error().Msgf("invalid relay: %v", err)
			node.OnAlternativeRelay(nil)
			return
		}

		node.OnAlternativeRelay(relay)
	}()
}
