package biz

import (
	"testing"
	"time"

	"xinyuan_tech/billing-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentApproveFlow(t *testing.T) {
	p := &Payment{ID: "PAY1", Status: PaymentStatusPending}
	now := time.Now().UTC()

	require.NoError(t, p.MarkRequested("txn_abc"))
	assert.Equal(t, PaymentStatusRequested, p.Status)

	require.NoError(t, p.Approve("txn_abc", now))
	assert.Equal(t, PaymentStatusApproved, p.Status)
	require.NotNil(t, p.ApprovedAt)
	assert.Equal(t, now, *p.ApprovedAt)
	assert.True(t, p.IsTerminal())
}

func TestPaymentApproveRejectsTransactionKeyMismatch(t *testing.T) {
	p := &Payment{ID: "PAY1", Status: PaymentStatusRequested, TransactionKey: "txn_abc"}

	err := p.Approve("txn_other", time.Now().UTC())
	assert.True(t, errors.IsStateConflict(err))
	assert.Equal(t, PaymentStatusRequested, p.Status)
}

func TestPaymentApproveWithEmptyRecordedKey(t *testing.T) {
	// billing key 扣款: requested 时还没有交易键, 结算时补记
	p := &Payment{ID: "PAY1", Status: PaymentStatusRequested}

	require.NoError(t, p.Approve("txn_late", time.Now().UTC()))
	assert.Equal(t, "txn_late", p.TransactionKey)
}

func TestPaymentDoubleApprove(t *testing.T) {
	p := &Payment{ID: "PAY1", Status: PaymentStatusRequested}
	require.NoError(t, p.Approve("txn_abc", time.Now().UTC()))

	err := p.Approve("txn_abc", time.Now().UTC())
	assert.True(t, errors.IsStateConflict(err))
}

func TestPaymentApprovedCannotFail(t *testing.T) {
	p := &Payment{ID: "PAY1", Status: PaymentStatusApproved}
	assert.True(t, errors.IsStateConflict(p.MarkFailed()))
	assert.Equal(t, PaymentStatusApproved, p.Status)
}

func TestPaymentBindTransactionKey(t *testing.T) {
	p := &Payment{ID: "PAY1", Status: PaymentStatusRequested}

	require.NoError(t, p.BindTransactionKey("txn_abc"))
	// 同一个键重复绑定无害
	require.NoError(t, p.BindTransactionKey("txn_abc"))
	// 换一个键绑定被拒绝
	assert.True(t, errors.IsStateConflict(p.BindTransactionKey("txn_other")))
}

func TestPaymentCancelFlow(t *testing.T) {
	p := &Payment{ID: "PAY1", Status: PaymentStatusApproved}

	require.NoError(t, p.RequestCancel())
	assert.Equal(t, PaymentStatusCancelRequested, p.Status)

	require.NoError(t, p.CompleteCancel())
	assert.Equal(t, PaymentStatusCanceled, p.Status)
	assert.True(t, p.IsTerminal())
}

func TestPaymentFailCancelReturnsToApproved(t *testing.T) {
	p := &Payment{ID: "PAY1", Status: PaymentStatusCancelRequested}

	require.NoError(t, p.FailCancel())
	assert.Equal(t, PaymentStatusApproved, p.Status)
}

func TestPaymentCancelRecord(t *testing.T) {
	c := &PaymentCancel{ID: 1, Status: PaymentCancelStatusRequested}
	require.NoError(t, c.Complete())
	assert.Equal(t, PaymentCancelStatusCompleted, c.Status)

	// 终态记录不可再转换, 重试走新记录
	assert.True(t, errors.IsStateConflict(c.Fail()))

	failed := &PaymentCancel{ID: 2, Status: PaymentCancelStatusRequested}
	require.NoError(t, failed.Fail())
	assert.Equal(t, PaymentCancelStatusFailed, failed.Status)
}
