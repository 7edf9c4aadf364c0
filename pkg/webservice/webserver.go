package webservice

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/codegangsta/negroni"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/laniot/laniot-signer/pkg/config"
	"github.com/laniot/laniot-signer/pkg/logging"
	"github.com/laniot/laniot-signer/pkg/webservice/middleware"
	"github.com/laniot/laniot-signer/pkg/webservice/response"
)

const (
	HTTP_SERVER_READ_TIMEOUT  = 5 * time.Second
	HTTP_SERVER_WRITE_TIMEOUT = 30 * time.Second
	HTTP_SERVER_IDLE_TIMEOUT  = 120 * time.Second
)

var (
	ErrLoadTlsCerts = errors.New("webserver: unable to load TLS certificates")
	ErrBindPort     = errors.New("webserver: unable to bind to web service port")
	ErrNoSigner     = errors.New("webserver: leaf signer required")
)

type Params struct {
	Logger      *logging.Logger
	Config      *config.WebService
	Signer      LeafSigner
	DefaultDays int
	// Metrics exposed on /metrics. The endpoint is not registered when nil.
	Gatherer prometheus.Gatherer
	// Filesystem the TLS certificate and key are read from
	Fs afero.Fs
}

type WebServer struct {
	config     *config.WebService
	fs         afero.Fs
	handler    http.Handler
	httpServer *http.Server
	logger     *logging.Logger
	router     *mux.Router
}

func NewWebServer(params *Params) (*WebServer, error) {
	if params.Signer == nil {
		return nil, ErrNoSigner
	}
	logger := params.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	cfg := params.Config
	if cfg == nil {
		cfg = &config.WebService{
			AllowPrivateIPs: true,
			MaxBodyBytes:    config.DefaultMaxBodyBytes,
			Port:            config.DefaultPort,
			RateLimit: config.RateLimit{
				Requests: config.DefaultRateRequests,
				Window:   config.DefaultRateWindow,
			},
			TrustProxy: true,
		}
	}
	fs := params.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	defaultDays := params.DefaultDays
	if defaultDays == 0 {
		defaultDays = config.DefaultDays
	}

	server := &WebServer{
		config: cfg,
		fs:     fs,
		logger: logger,
		router: mux.NewRouter(),
	}
	server.handler = server.buildHandler(params.Signer, defaultDays, params.Gatherer)
	server.httpServer = &http.Server{
		Handler:      server.handler,
		IdleTimeout:  HTTP_SERVER_IDLE_TIMEOUT,
		ReadTimeout:  HTTP_SERVER_READ_TIMEOUT,
		WriteTimeout: HTTP_SERVER_WRITE_TIMEOUT,
		ErrorLog:     logger.StdLogger(),
	}
	return server, nil
}

// Returns the fully wrapped HTTP handler
func (server *WebServer) Handler() http.Handler {
	return server.handler
}

func (server *WebServer) buildHandler(
	leafSigner LeafSigner,
	defaultDays int,
	gatherer prometheus.Gatherer) http.Handler {

	clientAddress := middleware.ClientAddressFunc(server.config.TrustProxy)
	responseWriter := response.NewResponseWriter(server.logger)
	signHandler := NewSignHandler(
		server.logger,
		responseWriter,
		leafSigner,
		server.config.AllowPrivateIPs,
		defaultDays,
		clientAddress)
	authenticator := middleware.NewAuthenticator(&middleware.AuthParams{
		Logger:         server.logger,
		ResponseWriter: responseWriter,
		Token:          server.config.Token,
		JWTSecret:      server.config.JWT.Secret,
		Audience:       server.config.JWT.Audience,
		Issuer:         server.config.JWT.Issuer,
		ClientAddress:  clientAddress,
	})
	rateLimiter := middleware.NewRateLimiter(&middleware.RateLimiterParams{
		Logger:         server.logger,
		ResponseWriter: responseWriter,
		MaxRequests:    server.config.RateLimit.Requests,
		Window:         server.config.RateLimit.Window,
		KeyFunc:        clientAddress,
	})

	router := server.router
	router.NotFoundHandler = http.HandlerFunc(signHandler.NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(signHandler.MethodNotAllowed)
	router.HandleFunc("/", signHandler.Index).Methods(http.MethodGet)
	router.HandleFunc("/healthz", signHandler.Health).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(rateLimiter.MiddlewareFunc)
	v1.NotFoundHandler = rateLimiter.MiddlewareFunc(router.NotFoundHandler)
	v1.HandleFunc("/healthz", signHandler.Health).Methods(http.MethodGet)
	v1.Handle("/sign", negroni.New(
		negroni.HandlerFunc(authenticator.Verify),
		negroni.HandlerFunc(middleware.BodyLimit(server.config.MaxBodyBytes)),
		negroni.Wrap(http.HandlerFunc(signHandler.Sign)),
	)).Methods(http.MethodPost)

	recovery := negroni.NewRecovery()
	recovery.PrintStack = false

	n := negroni.New(
		recovery,
		middleware.NewAccessLogger(server.logger, clientAddress),
		negroni.HandlerFunc(middleware.SecurityHeaders),
	)
	n.UseHandler(middleware.CORSMiddleware(middleware.DefaultCORSOptions())(router))
	return n
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully.
func (server *WebServer) Run(ctx context.Context) error {
	address := net.JoinHostPort(server.config.ListenAddress, strconv.Itoa(server.config.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBindPort, address, err)
	}
	return server.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done. TLS is enabled
// when a certificate and key are configured.
func (server *WebServer) Serve(ctx context.Context, listener net.Listener) error {
	if server.config.TLSCert != "" {
		tlsConfig, err := server.tlsConfig()
		if err != nil {
			listener.Close()
			return err
		}
		server.httpServer.TLSConfig = tlsConfig
		listener = tls.NewListener(listener, tlsConfig)
		server.logger.Infof("webserver: starting secure TLS web services on %s", listener.Addr())
	} else {
		server.logger.Infof("webserver: starting web services on plain-text HTTP %s", listener.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := server.httpServer.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Shutdown()
	})
	return g.Wait()
}

func (server *WebServer) Shutdown() error {
	server.logger.Info("webserver: shutting down")
	timeout := server.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.httpServer.Shutdown(ctx)
}

func (server *WebServer) tlsConfig() (*tls.Config, error) {
	certPEM, err := afero.ReadFile(server.fs, server.config.TLSCert)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadTlsCerts, err)
	}
	keyPEM, err := afero.ReadFile(server.fs, server.config.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadTlsCerts, err)
	}
	certificate, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadTlsCerts, err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
