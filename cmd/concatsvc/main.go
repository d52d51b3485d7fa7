package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	consulsd "github.com/go-kit/kit/sd/consul"
	kitgrpc "github.com/go-kit/kit/transport/grpc"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/grpc-ecosystem/grpc-opentracing/go/otgrpc"
	consulapi "github.com/hashicorp/consul/api"
	stdopentracing "github.com/opentracing/opentracing-go"
	"github.com/openzipkin/zipkin-go"
	zipkinhttp "github.com/openzipkin/zipkin-go/reporter/http"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/cage1016/concatsvc/pkg/concatsvc/endpoints"
	"github.com/cage1016/concatsvc/pkg/concatsvc/service"
	"github.com/cage1016/concatsvc/pkg/concatsvc/transports"
)

const (
	defZipkinV2URL string = ""
	defConsulAddr  string = ""
	defNameSpace   string = "concatsvc"
	defServiceName string = "concatsvc"
	defLogLevel    string = "info"
	defServiceHost string = "localhost"
	defHTTPPort    string = "8180"
	defGRPCPort    string = "8181"
	defRootDir     string = ""
	defRateLimit   string = "0" // requests per second, 0 disables limiting
	defRateBurst   string = "100"
	envZipkinV2URL string = "QS_ZIPKIN_V2_URL"
	envConsulAddr  string = "QS_CONSUL_ADDR"
	envNameSpace   string = "QS_CONCATSVC_NAMESPACE"
	envServiceName string = "QS_CONCATSVC_SERVICE_NAME"
	envLogLevel    string = "QS_CONCATSVC_LOG_LEVEL"
	envServiceHost string = "QS_CONCATSVC_SERVICE_HOST"
	envHTTPPort    string = "QS_CONCATSVC_HTTP_PORT"
	envGRPCPort    string = "QS_CONCATSVC_GRPC_PORT"
	envRootDir     string = "QS_CONCATSVC_ROOT_DIR"
	envRateLimit   string = "QS_CONCATSVC_RATE_LIMIT"
	envRateBurst   string = "QS_CONCATSVC_RATE_BURST"
)

type config struct {
	nameSpace   string
	serviceName string
	logLevel    string
	serviceHost string
	httpPort    string
	grpcPort    string
	rootDir     string
	rateLimit   float64
	rateBurst   int
	zipkinV2URL string
	consulAddr  string
}

// Env reads specified environment variable. If no value has been found,
// fallback is returned.
func env(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = level.NewFilter(logger, levelOption(cfg.logLevel))
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	logger = log.With(logger, "service", cfg.serviceName)

	httpHandler, err := NewServer(cfg, logger)
	if err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}

	errs := make(chan error, 2)
	hs := health.NewServer()
	hs.SetServingStatus(cfg.serviceName, healthgrpc.HealthCheckResponse_SERVING)

	go startHTTPServer(cfg, httpHandler, logger, errs)
	go startGRPCServer(cfg, hs, logger, errs)

	if cfg.consulAddr != "" {
		registrar, err := newRegistrar(cfg, logger)
		if err != nil {
			level.Error(logger).Log("consul", cfg.consulAddr, "err", err)
			os.Exit(1)
		}
		registrar.Register()
		defer registrar.Deregister()
	}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errs <- fmt.Errorf("%s", <-c)
	}()

	err = <-errs
	level.Info(logger).Log("serviceName", cfg.serviceName, "terminated", err)
}

func loadConfig() (cfg config, err error) {
	if cfg.rateLimit, err = strconv.ParseFloat(env(envRateLimit, defRateLimit), 64); err != nil {
		return cfg, fmt.Errorf("%s: %v", envRateLimit, err)
	}
	if cfg.rateBurst, err = strconv.Atoi(env(envRateBurst, defRateBurst)); err != nil {
		return cfg, fmt.Errorf("%s: %v", envRateBurst, err)
	}

	cfg.nameSpace = env(envNameSpace, defNameSpace)
	cfg.serviceName = env(envServiceName, defServiceName)
	cfg.logLevel = env(envLogLevel, defLogLevel)
	cfg.serviceHost = env(envServiceHost, defServiceHost)
	cfg.httpPort = env(envHTTPPort, defHTTPPort)
	cfg.grpcPort = env(envGRPCPort, defGRPCPort)
	cfg.rootDir = env(envRootDir, defRootDir)
	cfg.zipkinV2URL = env(envZipkinV2URL, defZipkinV2URL)
	cfg.consulAddr = env(envConsulAddr, defConsulAddr)
	return cfg, nil
}

// limit converts the configured rate, where 0 or less means unlimited.
func (cfg config) limit() rate.Limit {
	if cfg.rateLimit <= 0 {
		return rate.Inf
	}
	return rate.Limit(cfg.rateLimit)
}

func levelOption(s string) level.Option {
	switch s {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	case "none":
		return level.AllowNone()
	default:
		return level.AllowInfo()
	}
}

// NewServer wires the service, its endpoints and the HTTP transport. The
// returned handler also serves /metrics.
func NewServer(cfg config, logger log.Logger) (http.Handler, error) {
	var tracer stdopentracing.Tracer
	{
		tracer = stdopentracing.GlobalTracer()
	}

	var zipkinTracer *zipkin.Tracer
	{
		var (
			err           error
			hostPort      = fmt.Sprintf("localhost:%s", cfg.httpPort)
			serviceName   = cfg.serviceName
			useNoopTracer = (cfg.zipkinV2URL == "")
			reporter      = zipkinhttp.NewReporter(cfg.zipkinV2URL)
		)
		zEP, _ := zipkin.NewEndpoint(serviceName, hostPort)
		zipkinTracer, err = zipkin.NewTracer(reporter, zipkin.WithLocalEndpoint(zEP), zipkin.WithNoopTracer(useNoopTracer))
		if err != nil {
			return nil, err
		}
		if !useNoopTracer {
			logger.Log("tracer", "Zipkin", "type", "Native", "URL", cfg.zipkinV2URL)
		}
	}

	fs := service.NewOSFileSystem()
	if cfg.rootDir != "" {
		var err error
		if fs, err = service.NewContainedFileSystem(cfg.rootDir, fs); err != nil {
			return nil, err
		}
		level.Info(logger).Log("root_dir", cfg.rootDir)
	}

	fieldKeys := []string{"method", "success"}
	requests := kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: cfg.nameSpace,
		Subsystem: "service",
		Name:      "concatenations_total",
		Help:      "Number of concatenations, by outcome.",
	}, fieldKeys)
	files := kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: cfg.nameSpace,
		Subsystem: "service",
		Name:      "input_files_total",
		Help:      "Number of input files requested for concatenation.",
	}, fieldKeys)
	latency := kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
		Namespace: cfg.nameSpace,
		Subsystem: "service",
		Name:      "concatenation_duration_seconds",
		Help:      "Time spent concatenating, in seconds.",
	}, fieldKeys)
	duration := kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
		Namespace: cfg.nameSpace,
		Subsystem: "endpoints",
		Name:      "request_duration_seconds",
		Help:      "Request duration in seconds.",
	}, fieldKeys)

	service := service.New(fs, logger, service.InstrumentingMiddleware(requests, files, latency))
	endpoints := endpoints.New(service, logger, duration, cfg.limit(), cfg.rateBurst, tracer, zipkinTracer)
	httpHandler := transports.NewHTTPHandler(endpoints, tracer, zipkinTracer, logger)

	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	m.Handle("/", httpHandler)
	return m, nil
}

func newRegistrar(cfg config, logger log.Logger) (*consulsd.Registrar, error) {
	port, err := strconv.Atoi(cfg.httpPort)
	if err != nil {
		return nil, err
	}

	consulCfg := consulapi.DefaultConfig()
	consulCfg.Address = cfg.consulAddr
	client, err := consulapi.NewClient(consulCfg)
	if err != nil {
		return nil, err
	}

	registration := &consulapi.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s-%s", cfg.serviceName, cfg.serviceHost, cfg.httpPort),
		Name:    cfg.serviceName,
		Tags:    []string{cfg.nameSpace},
		Address: cfg.serviceHost,
		Port:    port,
		Check: &consulapi.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://%s:%s/health", cfg.serviceHost, cfg.httpPort),
			Interval: "10s",
			Timeout:  "1s",
		},
	}
	return consulsd.NewRegistrar(consulsd.NewClient(client), registration, logger), nil
}

func startHTTPServer(cfg config, httpHandler http.Handler, logger log.Logger, errs chan error) {
	p := fmt.Sprintf(":%s", cfg.httpPort)
	level.Info(logger).Log("serviceName", cfg.serviceName, "protocol", "HTTP", "exposed", cfg.httpPort)
	errs <- http.ListenAndServe(p, httpHandler)
}

// startGRPCServer exposes the standard health service and reflection.
func startGRPCServer(cfg config, hs *health.Server, logger log.Logger, errs chan error) {
	p := fmt.Sprintf(":%s", cfg.grpcPort)
	listener, err := net.Listen("tcp", p)
	if err != nil {
		level.Error(logger).Log("serviceName", cfg.serviceName, "protocol", "GRPC", "listen", cfg.grpcPort, "err", err)
		os.Exit(1)
	}

	var server *grpc.Server
	level.Info(logger).Log("serviceName", cfg.serviceName, "protocol", "GRPC", "exposed", cfg.grpcPort)
	server = grpc.NewServer(grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
		kitgrpc.Interceptor,
		otgrpc.OpenTracingServerInterceptor(stdopentracing.GlobalTracer()),
	)))
	healthgrpc.RegisterHealthServer(server, hs)
	reflection.Register(server)
	errs <- server.Serve(listener)
}
