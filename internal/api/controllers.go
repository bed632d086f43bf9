package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"sterling-gateway/internal/ledger"
	"sterling-gateway/internal/terminal"
)

// orderRequest is the inbound order payload for both limit and market
// submits; market submits ignore ord_price.
type orderRequest struct {
	Account        string  `json:"account"`
	Symbol         string  `json:"symbol"`
	OrdSize        int64   `json:"ord_size"`
	OrdDisp        int64   `json:"ord_disp"`
	OrdRoute       string  `json:"ord_route"`
	OrdPrice       float64 `json:"ord_price"`
	OrdSide        string  `json:"ord_side"`
	OrdTIF         string  `json:"ord_tif"`
	IdempotencyKey string  `json:"idempotency_key"`
}

type cancelRequest struct {
	Account string `json:"account"`
	OrderID string `json:"order_id"`
}

func (s *Server) createLimitOrder(c *gin.Context) {
	s.submitOrder(c, ledger.TypeLimit)
}

func (s *Server) createMarketOrder(c *gin.Context) {
	s.submitOrder(c, ledger.TypeMarket)
}

func (s *Server) submitOrder(c *gin.Context, typ ledger.OrderType) {
	var req orderRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "VALIDATION_ERROR",
			"error": "invalid request payload",
		})
		return
	}

	sub := terminal.SubmitKey{
		Request: terminal.SubmitRequest{
			Account:     req.Account,
			Symbol:      req.Symbol,
			Side:        normalizeSide(req.OrdSide),
			Type:        typ,
			Qty:         req.OrdSize,
			Display:     req.OrdDisp,
			Route:       req.OrdRoute,
			Price:       req.OrdPrice,
			TimeInForce: req.OrdTIF,
		},
		IdempotencyKey: req.IdempotencyKey,
	}

	orderID, err := s.Adapter.Submit(c.Request.Context(), sub)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_id": orderID})
}

func (s *Server) cancelOrder(c *gin.Context) {
	var req cancelRequest
	if err := c.BindJSON(&req); err != nil || req.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "VALIDATION_ERROR",
			"error": "order_id is required",
		})
		return
	}

	if err := s.Adapter.Cancel(c.Request.Context(), req.Account, req.OrderID); err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": req.OrderID, "status": string(ledger.StatusPendingCancel)})
}

func (s *Server) getOrderStatus(c *gin.Context) {
	ord, err := s.Ledger.Get(c.Param("order_id"))
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, ord)
}

func (s *Server) listOpenOrders(c *gin.Context) {
	c.JSON(http.StatusOK, s.Ledger.ListOpen())
}

func (s *Server) getPosition(c *gin.Context) {
	account := c.Param("account")
	symbol := strings.ToUpper(c.Param("symbol"))

	if c.Query("refresh") != "true" {
		if pos, ok := s.Positions.Get(account, symbol); ok {
			c.JSON(http.StatusOK, pos)
			return
		}
	}

	pos, err := s.Adapter.QueryPosition(c.Request.Context(), account, symbol)
	if err != nil {
		// A terminal-side query failure means the pair is unknown there; an
		// unavailable or timed-out terminal is reported as such so callers
		// can back off instead of treating the position as flat.
		var cErr *terminal.CallError
		if !errors.As(err, &cErr) {
			s.writeDomainError(c, err)
			return
		}
		log.Printf("api: position refresh %s/%s failed: %v", account, symbol, err)
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "POSITION_NOT_FOUND",
			"error": "position not observed and refresh failed",
		})
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.Adapter.ListAccounts(c.Request.Context())
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) listPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Positions.List(c.Param("account")))
}

// writeDomainError maps domain errors onto the structured response contract;
// anything unexpected becomes a logged 500.
func (s *Server) writeDomainError(c *gin.Context, err error) {
	var vErr *terminal.ValidationError
	var cErr *terminal.CallError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": vErr.Error()})
	case errors.Is(err, terminal.ErrTerminalUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "TERMINAL_UNAVAILABLE", "error": "terminal automation interface not available"})
	case errors.As(err, &cErr):
		c.JSON(http.StatusBadGateway, gin.H{"code": "AUTOMATION_CALL_FAILED", "error": cErr.Reason})
	case errors.Is(err, ledger.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "ORDER_NOT_FOUND", "error": "unknown order"})
	case errors.Is(err, ledger.ErrOrderTerminal):
		c.JSON(http.StatusConflict, gin.H{"code": "ORDER_ALREADY_TERMINAL", "error": "order already reached a terminal state"})
	case errors.Is(err, ledger.ErrDuplicateOrderID):
		c.JSON(http.StatusConflict, gin.H{"code": "DUPLICATE_ORDER_ID", "error": "order id already registered"})
	case errors.Is(err, terminal.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"code": "TIMEOUT", "error": "terminal query timed out"})
	default:
		log.Printf("api: internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": "internal error"})
	}
}

func normalizeSide(side string) ledger.Side {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "B", "BUY":
		return ledger.SideBuy
	case "S", "SELL":
		return ledger.SideSell
	}
	return ledger.Side(side)
}
