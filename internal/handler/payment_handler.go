package handler

import (
	"crypto/subtle"
	"net/http"

	"app/internal/config"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 決済プロバイダからのwebhookを受ける。再配送されても安全（usecase側が冪等）。
type PaymentHandler struct {
	uc  *usecase.PaymentUsecase
	cfg config.Config
}

func NewPaymentHandler(uc *usecase.PaymentUsecase, cfg config.Config) *PaymentHandler {
	return &PaymentHandler{uc: uc, cfg: cfg}
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/payments/webhook", h.webhook)
}

type PaymentWebhookRequest struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

func (h *PaymentHandler) webhook(c echo.Context) error {
	//共有シークレットで簡易に認証する
	token := c.Request().Header.Get("X-Webhook-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.WebhookToken)) != 1 {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req PaymentWebhookRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	err := h.uc.RecordPaymentResult(c.Request().Context(), usecase.PaymentResultInput{
		OrderID: req.OrderID,
		Paid:    req.Status == "PAID",
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Message: "ok"})
}
