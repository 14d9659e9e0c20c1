package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/smallbiznis/enrollpay/internal/gateway/domain"
	orderdomain "github.com/smallbiznis/enrollpay/internal/order/domain"
	ordersvc "github.com/smallbiznis/enrollpay/internal/order/service"
)

func (s *Server) registerOrderRoutes() {
	orders := s.engine.Group("/orders")
	orders.POST("", s.createOrder)
	orders.GET("/:id", s.getOrder)
	orders.GET("/by-reference/:reference", s.getOrderByReference)
	orders.POST("/:id/confirm", s.confirmOrder)
}

type createOrderRequest struct {
	PayerID   string `json:"payer_id"`
	SubjectID string `json:"subject_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Provider  string `json:"provider"`
}

type orderResponse struct {
	ID            string  `json:"id"`
	Reference     string  `json:"reference"`
	PayerID       string  `json:"payer_id"`
	SubjectID     string  `json:"subject_id"`
	Amount        int64   `json:"amount"`
	Currency      string  `json:"currency"`
	State         string  `json:"state"`
	Provider      string  `json:"provider"`
	FailureReason *string `json:"failure_reason,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type createOrderResponse struct {
	Order        orderResponse  `json:"order"`
	ClientHandle map[string]any `json:"client_handle"`
}

type confirmOrderRequest struct {
	Reference       string `json:"reference"`
	Signature       string `json:"signature"`
	ClaimedAmount   int64  `json:"claimed_amount"`
	ClaimedCurrency string `json:"claimed_currency"`
}

type confirmOrderResponse struct {
	State   string `json:"state"`
	Outcome string `json:"outcome"`
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, gatewaydomain.ErrInvalidClaim)
		return
	}

	result, err := s.orderSvc.Create(c.Request.Context(), ordersvc.CreateOrderRequest{
		PayerID:   req.PayerID,
		SubjectID: req.SubjectID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Provider:  req.Provider,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, createOrderResponse{
		Order:        toOrderResponse(result.Order),
		ClientHandle: result.ClientHandle,
	})
}

func (s *Server) getOrder(c *gin.Context) {
	id, err := parseOrderID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": toOrderResponse(order)})
}

func (s *Server) getOrderByReference(c *gin.Context) {
	order, err := s.orderSvc.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": toOrderResponse(order)})
}

func (s *Server) confirmOrder(c *gin.Context) {
	id, err := parseOrderID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req confirmOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, gatewaydomain.ErrInvalidClaim)
		return
	}

	result, err := s.verifySvc.Confirm(c.Request.Context(), id, gatewaydomain.ConfirmationClaim{
		Reference:       req.Reference,
		Signature:       req.Signature,
		ClaimedAmount:   req.ClaimedAmount,
		ClaimedCurrency: req.ClaimedCurrency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, confirmOrderResponse{
		State:   string(result.State),
		Outcome: string(result.Outcome),
	})
}

func parseOrderID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, orderdomain.ErrNotFound
	}
	return id, nil
}

func toOrderResponse(order *orderdomain.Order) orderResponse {
	return orderResponse{
		ID:            order.ID.String(),
		Reference:     order.Reference,
		PayerID:       order.PayerID,
		SubjectID:     order.SubjectID,
		Amount:        order.Amount,
		Currency:      order.Currency,
		State:         string(order.State),
		Provider:      order.Provider,
		FailureReason: order.FailureReason,
		CreatedAt:     order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     order.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
