package data

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/conf"
	bizerrors "xinyuan_tech/billing-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) biz.PaymentGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGatewayClient(&conf.Bootstrap{
		Gateway: &conf.Gateway{BaseURL: srv.URL, SecretKey: "sk_test", Timeout: "2s"},
	}, log.NewStdLogger(io.Discard))
}

func TestGatewayPrepareSendsCurrency(t *testing.T) {
	var got map[string]interface{}
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"paymentKey": "txn_1", "orderId": "ORD1", "status": "READY", "totalAmount": 10000, "currency": "KRW",
		})
	})

	order := &biz.Order{ID: "ORD1", UnitPrice: 10000, Quantity: 1, Currency: "KRW"}
	gp, err := gw.Prepare(context.Background(), order, "card")
	require.NoError(t, err)
	assert.Equal(t, "txn_1", gp.TransactionKey)
	assert.Equal(t, "KRW", got["currency"])
	assert.Equal(t, float64(10000), got["amount"])
}

func TestGatewayPrepareDefaultsCurrency(t *testing.T) {
	var got map[string]interface{}
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"paymentKey": "txn_1", "status": "READY"})
	})

	// 币种为空的历史订单回落到默认币种
	order := &biz.Order{ID: "ORD1", UnitPrice: 10000, Quantity: 1}
	_, err := gw.Prepare(context.Background(), order, "card")
	require.NoError(t, err)
	assert.Equal(t, "KRW", got["currency"])
}

func TestGatewayRejectedOn4xx(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "INVALID_CARD", "message": "card declined"})
	})

	_, err := gw.Cancel(context.Background(), "txn_1", 10000, "user request")
	assert.True(t, bizerrors.IsGatewayRejected(err))
}

func TestGatewayTimeoutOn5xx(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	// 网关内部错误视为结果不确定, 不能当作明确拒绝
	_, err := gw.Cancel(context.Background(), "txn_1", 10000, "user request")
	assert.True(t, bizerrors.IsGatewayTimeout(err))
}

func TestGatewayTimeoutOnSlowResponse(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := gw.GetDetails(ctx, "txn_1")
	assert.True(t, bizerrors.IsGatewayTimeout(err))
}
