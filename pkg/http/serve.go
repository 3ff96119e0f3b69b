package xhttp

import (
	"os"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/nimasrn/digest-dispatcher/pkg/logger"
	"github.com/valyala/fasthttp"
)

// env list:
// XHTTP_SERVER_READ_TIMEOUT  (ms)
// XHTTP_SERVER_WRITE_TIMEOUT (ms)

var (
	defaultReadBufferSize  = 1024 * 4
	defaultWriteBufferSize = 1024 * 4
	defaultReadTimeout     = time.Millisecond * 2500
	defaultWriteTimeout    = time.Millisecond * 2500
)

func init() {
	if v := envMillis("XHTTP_SERVER_READ_TIMEOUT"); v > 0 {
		defaultReadTimeout = v
	}
	if v := envMillis("XHTTP_SERVER_WRITE_TIMEOUT"); v > 0 {
		defaultWriteTimeout = v
	}
}

func envMillis(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" || raw == "0" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return time.Millisecond * time.Duration(v)
}

type Server = fasthttp.Server

type ServerOption struct {
	Name string

	// idle keep-alive connections are closed after this long
	IdleTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	ReadBufferSize  int
	WriteBufferSize int

	// admin payloads are small, 1MB is plenty
	MaxRequestBodySize int

	Concurrency int

	Logger logger.Logger
}

var DefaultServerOption = ServerOption{
	Name:               "digest-dispatcher",
	IdleTimeout:        time.Second * 10,
	ReadTimeout:        defaultReadTimeout,
	WriteTimeout:       defaultWriteTimeout,
	ReadBufferSize:     defaultReadBufferSize,
	WriteBufferSize:    defaultWriteBufferSize,
	MaxRequestBodySize: 1024 * 1024,
	Concurrency:        1024,
}

type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func newServer(options ServerOption) *fasthttp.Server {
	l := options.Logger
	if l == nil {
		l = logger.GetLogger()
	}
	return &fasthttp.Server{
		Name:                  options.Name,
		Concurrency:           options.Concurrency,
		ReadBufferSize:        options.ReadBufferSize,
		WriteBufferSize:       options.WriteBufferSize,
		ReadTimeout:           options.ReadTimeout,
		WriteTimeout:          options.WriteTimeout,
		IdleTimeout:           options.IdleTimeout,
		MaxRequestBodySize:    options.MaxRequestBodySize,
		NoDefaultServerHeader: true,
		CloseOnShutdown:       true,
		Logger:                l,
		ErrorHandler: func(ctx *RequestCtx, err error) {
			logger.Warn("[xhttp] request error", "error", err, "path", string(ctx.Path()))
		},
	}
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: newServer(options),
		Router: NewRouter(),
		option: options,
	}
}

// CreateServer returns an engine with the default options and router.
func CreateServer() *Engine {
	s := NewServer(DefaultServerOption)
	s.Router = CreateDefaultRouter()
	return s
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	e.Server.Logger.Printf("[xhttp] server is listening on %s", addr)
	return e.Server.ListenAndServe(addr)
}

// DoRouting installs the router as the server handler wrapped by the
// registered middleware, first registered runs outermost.
func (e *Engine) DoRouting() {
	for method, route := range e.Router.List() {
		for _, r := range route {
			e.Server.Logger.Printf("[xhttp] method: %s, path: %s", method, r)
		}
	}
	e.Server.Handler = e.Handler()
}

// Handler returns the router handler wrapped in middleware without touching
// the server, handy for in-memory tests.
func (e *Engine) Handler() RequestHandler {
	h := e.Router.Handler
	middle := slices.Clone(e.middle)
	slices.Reverse(middle)
	for i, m := range middle {
		h = m(h)
		logger.Debug("[xhttp] middleware registered", "index", len(middle)-i, "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	return h
}

// Use appends middleware to the chain which is run for every request.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown gracefully shuts down the server without interrupting active connections.
func (e *Engine) Shutdown() {
	e.Server.Logger.Printf("[xhttp] server is shutting down, process id: %d", os.Getpid())
	if err := e.Server.Shutdown(); err != nil {
		e.Server.Logger.Printf("[xhttp] error while shutting down: %v", err)
	}
}
