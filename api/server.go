package api

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/coordinator"
	"github.com/blakecragen/cluster/nodes"
)

// DefaultMaxUploadSize bounds multipart bodies when no limit is configured.
const DefaultMaxUploadSize = 512 << 20

// Server is the coordinator's HTTP front end.
type Server struct {
	app      *fiber.App
	coord    *coordinator.Coordinator
	nodes    nodes.Lister
	limiter  *limiter
	logger   *slog.Logger
	hostname string

	maxUpload int
	rate      float64
	burst     int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithNodes sets the orchestrator node lister used by GET /nodes.
func WithNodes(l nodes.Lister) Option {
	return func(s *Server) { s.nodes = l }
}

// WithRateLimit limits each worker to perSecond requests on the agent
// routes, with the given burst. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) { s.rate, s.burst = perSecond, burst }
}

// WithMaxUploadSize bounds request bodies in bytes.
func WithMaxUploadSize(n int) Option {
	return func(s *Server) { s.maxUpload = n }
}

// FromConfig translates the HTTP settings of cfg into options.
func FromConfig(cfg cluster.Config) []Option {
	return []Option{
		WithRateLimit(cfg.AgentRateLimit, cfg.AgentRateBurst),
		WithMaxUploadSize(cfg.MaxUploadSize),
	}
}

// New builds the Fiber app for coord.
func New(coord *coordinator.Coordinator, opts ...Option) *Server {
	s := &Server{
		coord:     coord,
		nodes:     nodes.Disabled{},
		logger:    slog.Default(),
		maxUpload: DefaultMaxUploadSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadSize
	}
	s.limiter = newLimiter(s.rate, s.burst)
	s.hostname, _ = os.Hostname() //nolint:errcheck // display only

	s.app = fiber.New(fiber.Config{
		AppName:               "cluster coordinator",
		BodyLimit:             s.maxUpload + 1<<20,
		ErrorHandler:          s.errorHandler,
		DisableStartupMessage: true,
	})
	s.app.Use(fiberrecover.New())
	s.app.Use(s.requestLogger())
	s.routes()
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", slog.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	// Dashboard.
	s.app.Get("/nodes", s.listNodes)
	s.app.Get("/workers", s.listWorkers)
	s.app.Delete("/workers/:id", s.removeWorker)
	s.app.Post("/delete_job/:id", s.deleteJob)
	s.app.Post("/mark_collected/:id", s.markCollected)
	s.app.Get("/download_result/:id", s.downloadResult)

	// Operator.
	s.app.Post("/upload", s.upload)
	s.app.Get("/jobs", s.listJobs)
	s.app.Get("/jobs/:id", s.getJob)
	s.app.Get("/queue", s.queue)
	s.app.Get("/healthz", s.healthz)
	s.app.Post("/purge_all", s.purgeAll)

	// Agent.
	s.app.Post("/register_worker", s.registerWorker)
	s.app.Post("/heartbeat", s.heartbeat)
	s.app.Post("/claim_job", s.claimJob)
	s.app.Post("/jobs/:id/start", s.startJob)
	s.app.Get("/jobs/:id/input", s.jobInput)
	s.app.Post("/upload_result/:id", s.uploadResult)
	s.app.Post("/report/:id", s.report)
}

// requestLogger logs one line per request at debug level, and at warn
// level for server errors.
func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status = statusFor(err)
		}

		level := slog.LevelDebug
		if status >= fiber.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(c.UserContext(), level, "http request",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
		)
		return err
	}
}
