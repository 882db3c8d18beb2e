// Package httpnode exposes the coordinator's entry points over HTTP so a
// host process in another runtime can drive it: read the status event
// stream, answer relay-substitution requests, and tear the service down.
package httpnode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lxmfkit/courier/courier"
	"github.com/lxmfkit/courier/gui/httpnode/controller"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

type key int

const (
	requestIDKey key = 0

	// this message is used by the host process to get the proxy address
	readyMsg = "proxy server is ready to handle requests at '%s'"
)

var (
	// defaultLevel can be changed to set the desired level of the logger
	defaultLevel = zerolog.InfoLevel

	// logout is the logger configuration
	logout = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
)

func init() {
	if os.Getenv("COURIERLOG") == "warn" {
		defaultLevel = zerolog.WarnLevel
	}

	if os.Getenv("COURIERLOG") == "no" {
		defaultLevel = zerolog.Disabled
	}
}

// Proxy defines the interface for a coordinator proxy
type Proxy interface {
	StartAndListen(proxyAddr string) error
	StopAndClose() error
}

// NewHTTPNode return a proxy http.
func NewHTTPNode(node courier.Courier, conf courier.Configuration) Proxy {
	log := zerolog.New(logout).
		Level(defaultLevel).
		With().Timestamp().Logger().
		With().Caller().Logger().
		With().Str("role", "proxy http").Logger()

	mux := http.NewServeMux()

	deliveryctrl := controller.NewDelivery(node, conf.Status, &log)
	servicectrl := controller.NewServiceCtrl(node, conf.Status, &log)

	// get all status events recorded so far by the registry.
	mux.Handle("/delivery/status", http.HandlerFunc(deliveryctrl.StatusHandler()))
	// GET the active relay, POST a relay-substitution decision.
	mux.Handle("/delivery/relay", http.HandlerFunc(deliveryctrl.RelayHandler()))

	mux.Handle("/service/stop", http.HandlerFunc(servicectrl.ServiceStopHandler()))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not authorized", http.StatusBadGateway)
		log.Error().Msgf("wrong endpoint: %s", r.URL.Path)
	})

	return &httpnode{
		Courier: node,
		conf:    conf,
		log:     &log,
		mux:     mux,
		quit:    make(chan struct{}),
	}
}

type httpnode struct {
	courier.Courier
	conf   courier.Configuration
	log    *zerolog.Logger
	server *http.Server
	quit   chan struct{}
	ln     net.Listener
	mux    *http.ServeMux
}

// StartAndListen implements Proxy. It will start the coordinator and the
// http server that interfaces with it.
func (h *httpnode) StartAndListen(proxyAddr string) error {
	err := h.Courier.Start()
	if err != nil {
		return xerrors.Errorf("failed to start coordinator: %v", err)
	}

	go h.listen(proxyAddr)

	return nil
}

// StopAndClose implements Proxy.
func (h *httpnode) StopAndClose() error {
	h.stop()

	h.log.Info().Msg("proxy stopped")

	err := h.Courier.Stop()
	if err != nil {
		return xerrors.Errorf("failed to stop coordinator: %v", err)
	}

	h.log.Info().Msg("coordinator stopped")

	return nil
}

// listen start the proxy http server.
func (h *httpnode) listen(proxyAddr string) {
	h.log.Info().Msg("proxy server is starting...")

	done := make(chan struct{})

	ln, err := net.Listen("tcp", proxyAddr)
	if err != nil {
		h.log.Panic().Msgf("failed to create conn '%s': %v", proxyAddr, err)
		return
	}

	addr := ln.Addr().String()

	h.ln = ln

	// this message is used by the host process to get the proxy address
	h.log.Info().Msgf(readyMsg, addr)

	proxyPath := filepath.Join(os.TempDir(), fmt.Sprintf("courieraddress_%d", os.Getpid()))

	err = os.WriteFile(proxyPath, []byte(addr), os.ModePerm)
	if err != nil {
		h.log.Panic().Msgf("failed to write proxy address: %v", err)
		return
	}

	newLog := h.log.With().Str("proxyAddr", addr).Logger()
	h.log = &newLog

	nextRequestID := func() string {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}

	h.server = &http.Server{
		Addr:    proxyAddr,
		Handler: tracing(nextRequestID)(logging(h.log)(h.mux)),
	}

	go func() {
		<-h.quit
		h.log.Info().Msg("proxy server is shutting down...")

		os.RemoveAll(proxyPath)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		h.server.SetKeepAlivesEnabled(false)
		err := h.server.Shutdown(ctx)
		if err != nil {
			h.log.Fatal().Msgf("Could not gracefully shutdown the server: %v", err)
		}
		close(done)
	}()

	err = h.server.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		h.log.Fatal().Msgf("could not listen on %s: %v", proxyAddr, err)
	}

	<-done
	h.log.Info().Msg("server stopped")
}

func (h *httpnode) stop() {
	// we don't close it so it can be called multiple times without harm
	h.quit <- struct{}{}
}

// logging is a utility function that logs the http server events
func logging(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				requestID, ok := r.Context().Value(requestIDKey).(string)
				if !ok {
					requestID = "unknown"
				}
				logger.Info().Str("requestID", requestID).
					Str("method", r.Method).
					Str("url", r.URL.Path).
					Str("remoteAddr", r.RemoteAddr).
					Str("agent", r.UserAgent()).Msg("")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// tracing is a utility function that adds header tracing
func tracing(nextRequestID func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = nextRequestID()
			}
			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			w.Header().Set("X-Request-Id", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
