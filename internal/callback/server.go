package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/learnmarket/coursewallet/pkg/purchase"
)

const (
	defaultListenAddr     = ":8940"
	defaultRequestTimeout = 15 * time.Second

	queryAuthority = "Authority"
	queryStatus    = "Status"
)

// Saga is the orchestrator surface the callback server drives.
type Saga interface {
	CompleteDeposit(ctx context.Context, token purchase.CorrelationToken, status purchase.CallbackStatus) (purchase.Outcome, error)
	Abandon(ctx context.Context) error
}

// Config aggregates runtime settings for the callback server.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

// Run boots the callback HTTP server and blocks until the context is
// canceled or the listener fails.
func Run(ctx context.Context, cfg Config, saga Saga, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if saga == nil {
		return fmt.Errorf("callback: saga dependency is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := &httpHandler{
		logger: logger,
		saga:   saga,
		cfg:    cfg,
	}
	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("callback server listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/payment/callback", handler.handleCallback)
	router.POST("/payment/abandon", handler.handleAbandon)

	return router
}

type httpHandler struct {
	logger *zap.Logger
	saga   Saga
	cfg    Config
}

// handleCallback is where the gateway lands the browser after a deposit
// attempt. The query carries the correlation token and the coarse status
// flag; everything else comes from the verification call.
func (handler *httpHandler) handleCallback(ctx *gin.Context) {
	token, err := purchase.NewCorrelationToken(ctx.Query(queryAuthority))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_authority", "callback is missing the correlation token"))
		return
	}
	status, err := purchase.ParseCallbackStatus(ctx.Query(queryStatus))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_status", "callback status is not recognized"))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	outcome, err := handler.saga.CompleteDeposit(requestCtx, token, status)
	if err != nil {
		if errors.Is(err, purchase.ErrDuplicateVerify) {
			ctx.JSON(http.StatusConflict, outcomeResponse(outcome))
			return
		}
		handler.logger.Error("deposit completion failed",
			zap.String("authority", token.String()),
			zap.Error(err),
		)
		ctx.JSON(http.StatusBadGateway, outcomeResponse(outcome))
		return
	}
	ctx.JSON(http.StatusOK, outcomeResponse(outcome))
}

func (handler *httpHandler) handleAbandon(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	if err := handler.saga.Abandon(requestCtx); err != nil {
		handler.logger.Error("abandon failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("abandon_failed", "pending purchase could not be cleared"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func outcomeResponse(outcome purchase.Outcome) gin.H {
	response := gin.H{
		"state":   string(outcome.State),
		"message": outcome.Message,
	}
	if !outcome.Course.IsZero() {
		response["course_id"] = outcome.Course.String()
	}
	if outcome.BalanceKnown {
		response["new_balance"] = outcome.NewBalance.Int64()
	}
	return response
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
