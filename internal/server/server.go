// Package server exposes the public query surface of the liquidity core
// over HTTP: order book reads and ladder quotes. Maker traffic and RFQ
// fills arrive through the session layer, not here.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ZigZagExchange/backend-sub000/internal/auction"
	"github.com/ZigZagExchange/backend-sub000/internal/book"
	"github.com/ZigZagExchange/backend-sub000/internal/config"
	"github.com/ZigZagExchange/backend-sub000/internal/liquidity"
	"github.com/ZigZagExchange/backend-sub000/internal/orderstore"
	"github.com/ZigZagExchange/backend-sub000/internal/quote"
	"github.com/ZigZagExchange/backend-sub000/internal/redis"
	"github.com/ZigZagExchange/backend-sub000/pkg/errors"
	"github.com/ZigZagExchange/backend-sub000/pkg/models"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg     config.ServerConfig
	books   *book.Service
	quotes  *quote.Engine
	makers  *liquidity.Store
	matcher *auction.Coordinator
	store   *redis.Client
	orders  orderstore.Store
	logger  *zap.Logger
	http    *http.Server
}

func New(cfg config.ServerConfig, books *book.Service, quotes *quote.Engine, makers *liquidity.Store, matcher *auction.Coordinator, store *redis.Client, orders orderstore.Store, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		books:   books,
		quotes:  quotes,
		makers:  makers,
		matcher: matcher,
		store:   store,
		orders:  orders,
		logger:  logger.Named("http"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.GET("/orderbook", s.handleOrderBook)
	v1.GET("/quote", s.handleQuote)

	// Session-layer surface: maker liquidity pushes and RFQ fill offers
	// are relayed here by the WS gateway, not called by end users.
	internal := router.Group("/internal")
	internal.POST("/liquidity", s.handleUpdateLiquidity)
	internal.POST("/matchorder", s.handleMatchOrder)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("listening", zap.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.store.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "store unreachable"})
		return
	}
	if err := s.orders.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "order store unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type orderBookQuery struct {
	ChainID int64  `form:"chain_id" binding:"required"`
	Market  string `form:"market" binding:"required"`
	Level   int    `form:"level"`
	Depth   int    `form:"depth"`
}

func (s *Server) handleOrderBook(c *gin.Context) {
	var q orderBookQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Level == 0 {
		q.Level = 3
	}
	ob, err := s.books.GetOrderBook(c.Request.Context(), q.ChainID, q.Market, q.Depth, q.Level)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, ob)
}

type quoteQuery struct {
	ChainID   int64  `form:"chain_id" binding:"required"`
	Market    string `form:"market" binding:"required"`
	Side      string `form:"side" binding:"required"`
	BaseSize  string `form:"base_size"`
	QuoteSize string `form:"quote_size"`
}

func (s *Server) handleQuote(c *gin.Context) {
	var q quoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	baseSize, err := parseSize(q.BaseSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid base_size"})
		return
	}
	quoteSize, err := parseSize(q.QuoteSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quote_size"})
		return
	}

	result, err := s.quotes.GenQuote(c.Request.Context(),
		q.ChainID, q.Market, models.Side(q.Side), baseSize, quoteSize)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type updateLiquidityRequest struct {
	ChainID int64             `json:"chain_id" binding:"required"`
	Market  string            `json:"market" binding:"required"`
	MakerID string            `json:"maker_id" binding:"required"`
	Levels  []json.RawMessage `json:"levels"`
}

func (s *Server) handleUpdateLiquidity(c *gin.Context) {
	var req updateLiquidityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rejected, err := s.makers.UpdateLiquidity(c.Request.Context(),
		req.ChainID, req.Market, req.MakerID, req.Levels)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejected": rejected})
}

type matchOrderRequest struct {
	ChainID int64            `json:"chain_id" binding:"required"`
	OrderID int64            `json:"order_id" binding:"required"`
	Offer   models.FillOffer `json:"offer" binding:"required"`
}

func (s *Server) handleMatchOrder(c *gin.Context) {
	var req matchOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.matcher.MatchOrder(c.Request.Context(), req.ChainID, req.OrderID, req.Offer); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "collected"})
}

func parseSize(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// renderError maps the error taxonomy onto HTTP statuses, hiding anything
// unclassified behind a generic failure.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.KindOf(err) {
	case errors.KindValidation:
		status = http.StatusBadRequest
	case errors.KindAuthorization:
		status = http.StatusForbidden
	case errors.KindConflict:
		status = http.StatusConflict
	case errors.KindLiquidity:
		status = http.StatusUnprocessableEntity
	case errors.KindInternal, errors.KindTransient:
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": errors.Reason(err)})
}
