// Package webhook is the HTTP entry point that receives Telegram updates and
// hands them to the bot.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// SecretHeader carries the token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Dispatcher handles one decoded update.
type Dispatcher interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// DispatcherFactory builds the dispatcher on first use. A failed build is
// retried on the next request.
type DispatcherFactory func(ctx context.Context) (Dispatcher, error)

type Options struct {
	Path    string
	Secret  string
	Factory DispatcherFactory
	Logger  *zap.Logger
}

// Server decodes and routes webhook updates. It holds no business state.
type Server struct {
	echo    *echo.Echo
	path    string
	secret  string
	factory DispatcherFactory
	log     *zap.Logger

	mu         sync.Mutex
	dispatcher Dispatcher

	inflight   sync.WaitGroup
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	path := opts.Path
	if path == "" {
		path = "/webhook"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:       echo.New(),
		path:       path,
		secret:     opts.Secret,
		factory:    opts.Factory,
		log:        log,
		baseCtx:    ctx,
		cancelBase: cancel,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST(path, s.handleUpdate)
	return s
}

// ServeHTTP lets the server be mounted or tested without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("webhook server listening", zap.String("addr", addr), zap.String("path", s.path))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for dispatched updates to
// finish. When ctx expires first, in-flight handlers are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancelBase()
		<-done
		return ctx.Err()
	}
	s.cancelBase()
	return err
}

// Init builds the dispatcher ahead of the first update. A failure leaves the
// server serving 503 until a later request succeeds.
func (s *Server) Init(ctx context.Context) error {
	_, err := s.dispatcherFor(ctx)
	return err
}

// Ready reports whether the dispatcher has been built.
func (s *Server) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher != nil
}

func (s *Server) dispatcherFor(ctx context.Context) (Dispatcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatcher != nil {
		return s.dispatcher, nil
	}
	if s.factory == nil {
		return nil, errors.New("no dispatcher configured")
	}
	d, err := s.factory(ctx)
	if err != nil {
		return nil, err
	}
	s.dispatcher = d
	s.log.Info("bot initialized")
	return d, nil
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "running", "message": "Reward bot"})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "healthy", "bot_ready": s.Ready()})
}

func (s *Server) handleUpdate(c echo.Context) error {
	if s.secret != "" {
		got := c.Request().Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid secret token"})
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(c.Request().Body).Decode(&update); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed update"})
	}

	d, err := s.dispatcherFor(c.Request().Context())
	if err != nil {
		s.log.Error("bot init failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "bot unavailable"})
	}

	s.dispatch(d, update)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) dispatch(d Dispatcher, update tgbotapi.Update) {
	log := s.log.With(zap.String("trace_id", uuid.NewString()), zap.Int("update_id", update.UpdateID))
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("update handler panicked", zap.Any("panic", r))
			}
		}()

		start := time.Now()
		if err := d.HandleUpdate(s.baseCtx, update); err != nil {
			log.Warn("update handling failed", zap.Error(err))
			return
		}
		log.Debug("update handled", zap.Duration("took", time.Since(start)))
	}()
}
