package server

import (
	"encoding/json"
	"io"
	stdhttp "net/http"
	"time"

	"xinyuan_tech/billing-service/internal/conf"
	bizerrors "xinyuan_tech/billing-service/internal/errors"
	"xinyuan_tech/billing-service/internal/service"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Bootstrap, billing *service.BillingService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		http.ErrorEncoder(customErrorEncoder),
	}
	if c.Server.Http.Addr != "" {
		opts = append(opts, http.Address(c.Server.Http.Addr))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, billing)

	// 注册健康检查端点
	srv.Route("/").GET("/health", func(ctx http.Context) error {
		return ctx.Result(200, map[string]interface{}{
			"service": "billing-service",
			"status":  "ok",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	return srv
}

// registerRoutes 注册业务路由
func registerRoutes(srv *http.Server, billing *service.BillingService) {
	r := srv.Route("/v1")

	// 支付网关回调: 原始报文直接交给对账层解码
	r.POST("/webhooks/payment", func(ctx http.Context) error {
		payload, err := io.ReadAll(ctx.Request().Body)
		if err != nil {
			return bizerrors.NewWebhookInvalid("failed to read webhook body: %v", err)
		}
		http.SetOperation(ctx, "/billing.v1.Billing/HandleWebhook")
		reply, err := billing.HandleWebhook(ctx, payload)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/orders/{order_id}/cancel", func(ctx http.Context) error {
		var req service.CancelOrderRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.OrderID = ctx.Vars().Get("order_id")
		http.SetOperation(ctx, "/billing.v1.Billing/CancelOrder")
		reply, err := billing.CancelOrder(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/subscriptions/{subscription_id}/cancel", func(ctx http.Context) error {
		var req service.CancelSubscriptionRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.SubscriptionID = ctx.Vars().Get("subscription_id")
		http.SetOperation(ctx, "/billing.v1.Billing/CancelSubscription")
		reply, err := billing.CancelSubscription(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/history/{entity_kind}/{entity_id}", func(ctx http.Context) error {
		var req service.ListTransitionHistoryRequest
		if err := ctx.BindQuery(&req); err != nil {
			return err
		}
		req.EntityKind = ctx.Vars().Get("entity_kind")
		req.EntityID = ctx.Vars().Get("entity_id")
		http.SetOperation(ctx, "/billing.v1.Billing/ListTransitionHistory")
		reply, err := billing.ListTransitionHistory(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
}

func customErrorEncoder(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	se := kerrors.FromError(err)
	status := stdhttp.StatusInternalServerError
	response := map[string]interface{}{
		"code":    status,
		"message": "internal server error",
	}

	if se != nil {
		status = mapErrorStatus(int(se.Code), se.Reason)
		response["code"] = se.Code
		response["reason"] = se.Reason
		response["message"] = clientErrorMessage(status, se.Reason, se.Message)
		if len(se.Metadata) > 0 {
			response["metadata"] = se.Metadata
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// clientErrorMessage 对外的错误文案
// 网关交互和内部错误的原始 message 含交易键/内部细节, 不能原样返回给调用方,
// reason 字段保留给客户端做程序化区分
func clientErrorMessage(status int, reason, message string) string {
	switch reason {
	case bizerrors.ReasonGatewayTimeout, bizerrors.ReasonGatewayRejected:
		return "payment could not be completed, please retry later"
	case bizerrors.ReasonLockBusy:
		return "operation in progress, please retry later"
	case bizerrors.ReasonVersionConflict:
		return "concurrent update detected, please retry"
	}
	if status >= stdhttp.StatusInternalServerError {
		return "internal server error"
	}
	return message
}

func mapErrorStatus(code int, reason string) int {
	if code >= 100 && code < 600 {
		return code
	}
	switch reason {
	case bizerrors.ReasonOrderNotFound,
		bizerrors.ReasonPaymentNotFound,
		bizerrors.ReasonSubscriptionNotFound,
		bizerrors.ReasonCouponNotFound:
		return stdhttp.StatusNotFound
	case bizerrors.ReasonOrderNotCancellable,
		bizerrors.ReasonStateConflict,
		bizerrors.ReasonAlreadySubscribed,
		bizerrors.ReasonVersionConflict:
		return stdhttp.StatusConflict
	case bizerrors.ReasonUnknownTransaction,
		bizerrors.ReasonAmountMismatch,
		bizerrors.ReasonWebhookInvalid,
		bizerrors.ReasonCouponNotUsable:
		return stdhttp.StatusBadRequest
	case bizerrors.ReasonLockBusy:
		return stdhttp.StatusTooManyRequests
	case bizerrors.ReasonGatewayTimeout:
		return stdhttp.StatusGatewayTimeout
	case bizerrors.ReasonGatewayRejected:
		return stdhttp.StatusBadGateway
	}
	if code >= 140000 && code < 150000 {
		return stdhttp.StatusBadRequest
	}
	return stdhttp.StatusInternalServerError
}
