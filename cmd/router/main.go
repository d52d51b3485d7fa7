package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/sd"
	consulsd "github.com/go-kit/kit/sd/consul"
	kitgrpc "github.com/go-kit/kit/transport/grpc"
	consulapi "github.com/hashicorp/consul/api"
	"github.com/mwitkow/grpc-proxy/proxy"
	stdopentracing "github.com/opentracing/opentracing-go"
	"github.com/openzipkin/zipkin-go"
	zipkingrpc "github.com/openzipkin/zipkin-go/middleware/grpc"
	zipkinhttp "github.com/openzipkin/zipkin-go/reporter/http"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	routertransport "github.com/cage1016/concatsvc/pkg/router/transport"
)

const grpcRouterReg = `([a-zA-Z]+)/`

const (
	defZipkinV2URL      = ""
	defConsulAddr       = ""
	defNameSpace        = "concatsvc"
	defServiceName      = "router"
	defLogLevel         = "info"
	defHTTPPort         = ""
	defGRPCPort         = ""
	defRetryTimeout     = "500" // time.Millisecond
	defRetryMax         = "3"
	defConcatsvcURL     = ""
	defConcatsvcGRPCURL = ""

	envZipkinV2URL      = "QS_ZIPKIN_V2_URL"
	envConsulAddr       = "QS_CONSUL_ADDR"
	envNameSpace        = "QS_ROUTER_NAMESPACE"
	envServiceName      = "QS_ROUTER_SERVICE_NAME"
	envLogLevel         = "QS_ROUTER_LOG_LEVEL"
	envHTTPPort         = "QS_ROUTER_HTTP_PORT"
	envGRPCPort         = "QS_ROUTER_GRPC_PORT"
	envRetryMax         = "QS_ROUTER_RETRY_MAX"
	envRetryTimeout     = "QS_ROUTER_RETRY_TIMEOUT"
	envConcatsvcURL     = "QS_CONCATSVC_URL"
	envConcatsvcGRPCURL = "QS_CONCATSVC_GRPC_URL"
)

// Env reads specified environment variable. If no value has been found,
// fallback is returned.
func env(key string, fallback string) (s0 string) {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type config struct {
	nameSpace        string
	serviceName      string
	logLevel         string
	httpPort         string
	grpcPort         string
	zipkinV2URL      string
	consulAddr       string
	retryMax         int64
	retryTimeout     int64
	concatsvcURL     string
	concatsvcGRPCURL string
	routerMap        map[string]string
}

func main() {
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	cfg := loadConfig(logger)
	logger = level.NewFilter(logger, levelOption(cfg.logLevel))
	logger = log.With(logger, "service", cfg.serviceName)

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
		defer reporter.Close()
		zEP, _ := zipkin.NewEndpoint(serviceName, hostPort)
		zipkinTracer, err = zipkin.NewTracer(reporter, zipkin.WithLocalEndpoint(zEP), zipkin.WithNoopTracer(useNoopTracer))
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
		if !useNoopTracer {
			logger.Log("tracer", "Zipkin", "type", "Native", "URL", cfg.zipkinV2URL)
		}
	}

	instancer, err := makeInstancer(cfg, logger)
	if err != nil {
		level.Error(logger).Log("consul", cfg.consulAddr, "err", err)
		os.Exit(1)
	}
	defer instancer.Stop()

	errs := make(chan error, 1)

	r := routertransport.MakeHandler(instancer, int(cfg.retryMax), time.Duration(cfg.retryTimeout)*time.Millisecond, tracer, zipkinTracer, logger)

	go startHTTPServer(r, cfg.httpPort, logger, errs)
	go startGRPCServer(zipkinTracer, cfg.grpcPort, cfg.routerMap, logger, errs)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errs <- fmt.Errorf("%s", <-c)
	}()

	errc := <-errs
	level.Info(logger).Log("serviceName", cfg.serviceName, "terminated", errc)
}

func loadConfig(logger log.Logger) (cfg config) {
	retryMax, err := strconv.ParseInt(env(envRetryMax, defRetryMax), 10, 0)
	if err != nil {
		level.Error(logger).Log("envRetryMax", envRetryMax, "error", err)
	}

	retryTimeout, err := strconv.ParseInt(env(envRetryTimeout, defRetryTimeout), 10, 0)
	if err != nil {
		level.Error(logger).Log("envRetryTimeout", envRetryTimeout, "error", err)
	}

	cfg.nameSpace = env(envNameSpace, defNameSpace)
	cfg.serviceName = env(envServiceName, defServiceName)
	cfg.logLevel = env(envLogLevel, defLogLevel)
	cfg.httpPort = env(envHTTPPort, defHTTPPort)
	cfg.grpcPort = env(envGRPCPort, defGRPCPort)
	cfg.zipkinV2URL = env(envZipkinV2URL, defZipkinV2URL)
	cfg.consulAddr = env(envConsulAddr, defConsulAddr)
	cfg.retryMax = retryMax
	cfg.retryTimeout = retryTimeout
	cfg.concatsvcURL = env(envConcatsvcURL, defConcatsvcURL)
	cfg.concatsvcGRPCURL = env(envConcatsvcGRPCURL, defConcatsvcGRPCURL)

	// keyed by the lowercased gRPC service name, see grpcRouterReg
	cfg.routerMap = map[string]string{}
	if cfg.concatsvcGRPCURL != "" {
		cfg.routerMap["health"] = cfg.concatsvcGRPCURL
	}
	return
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

// makeInstancer discovers concatsvc through consul when an agent address is
// configured, otherwise it always yields the configured URL.
func makeInstancer(cfg config, logger log.Logger) (sd.Instancer, error) {
	if cfg.consulAddr == "" {
		if cfg.concatsvcURL == "" {
			return sd.FixedInstancer{}, nil
		}
		return sd.FixedInstancer{cfg.concatsvcURL}, nil
	}

	consulCfg := consulapi.DefaultConfig()
	consulCfg.Address = cfg.consulAddr
	client, err := consulapi.NewClient(consulCfg)
	if err != nil {
		return nil, err
	}
	return consulsd.NewInstancer(consulsd.NewClient(client), logger, "concatsvc", []string{cfg.nameSpace}, true), nil
}

func startHTTPServer(handler http.Handler, port string, logger log.Logger, errs chan error) {
	if port == "" {
		return
	}
	p := fmt.Sprintf(":%s", port)
	level.Info(logger).Log("protocol", "HTTP", "exposed", port)
	errs <- http.ListenAndServe(p, handler)
}

// newDirector routes a proxied call by its lowercased gRPC service name.
// Services missing from conns are answered with codes.Unimplemented.
func newDirector(conns map[string]*grpc.ClientConn) proxy.StreamDirector {
	re := regexp.MustCompile(grpcRouterReg)
	return func(ctx context.Context, fullMethodName string) (context.Context, *grpc.ClientConn, error) {
		x := re.FindStringSubmatch(fullMethodName)
		if x == nil {
			return nil, nil, status.Errorf(codes.Unimplemented, "Unknown method")
		}

		// Make sure we never forward internal services.
		conn, ok := conns[strings.ToLower(x[1])]
		if !ok {
			return nil, nil, status.Errorf(codes.Unimplemented, "Unknown method")
		}

		// Copy the inbound metadata explicitly.
		md, _ := metadata.FromIncomingContext(ctx)
		outCtx := metadata.NewOutgoingContext(ctx, md.Copy())
		return outCtx, conn, nil
	}
}

func startGRPCServer(zipkinTracer *zipkin.Tracer, port string, routerMap map[string]string, logger log.Logger, errs chan error) {
	if port == "" {
		return
	}
	p := fmt.Sprintf(":%s", port)
	listener, err := net.Listen("tcp", p)
	if err != nil {
		level.Error(logger).Log("GRPC", "proxy", "listen", port, "err", err)
		os.Exit(1)
	}

	// Connections are dialed once and shared by every proxied call.
	conns := map[string]*grpc.ClientConn{}
	for name, target := range routerMap {
		conn, err := grpc.Dial(
			target,
			grpc.WithInsecure(),
			grpc.WithStatsHandler(zipkingrpc.NewClientHandler(zipkinTracer)),
			grpc.WithDefaultCallOptions(grpc.CallCustomCodec(proxy.Codec()), grpc.FailFast(false)),
		)
		if err != nil {
			level.Error(logger).Log("GRPC", "proxy", "dial", target, "err", err)
			os.Exit(1)
		}
		defer conn.Close()
		conns[name] = conn
	}

	director := newDirector(conns)

	var server *grpc.Server
	level.Info(logger).Log("GRPC", "proxy", "exposed", port)
	server = grpc.NewServer(
		grpc.CustomCodec(proxy.Codec()),
		grpc.UnknownServiceHandler(proxy.TransparentHandler(director)),
		grpc.UnaryInterceptor(kitgrpc.Interceptor),
		grpc.StatsHandler(zipkingrpc.NewServerHandler(zipkinTracer)),
	)
	reflection.Register(server)
	errs <- server.Serve(listener)
}
