package errors

import (
	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// 计费服务错误码定义
// 错误码格式：SSMMEE (6位数字)，其中 SS=14 表示 billing-service
// 模块划分：
//   01: 订单模块
//   02: 支付模块
//   03: 订阅模块
//   04: 优惠券模块
//   05: 支付网关模块
//   06: 并发控制模块

// 订单模块 (140100-140199)
const (
	// ErrCodeOrderNotFound 订单不存在错误
	ErrCodeOrderNotFound = 140101
	// ErrCodeOrderNotCancellable 当前状态订单不可取消错误
	ErrCodeOrderNotCancellable = 140102
)

// 支付模块 (140200-140299)
const (
	// ErrCodePaymentNotFound 支付记录不存在错误
	ErrCodePaymentNotFound = 140201
	// ErrCodeUnknownTransaction 回调的交易键无本地支付记录错误
	ErrCodeUnknownTransaction = 140202
	// ErrCodeAmountMismatch 回调金额与本地记录不一致错误
	ErrCodeAmountMismatch = 140203
)

// 订阅模块 (140300-140399)
const (
	// ErrCodeSubscriptionNotFound 订阅不存在错误
	ErrCodeSubscriptionNotFound = 140301
	// ErrCodeAlreadySubscribed 用户在该内容下已有活跃订阅错误
	ErrCodeAlreadySubscribed = 140302
)

// 优惠券模块 (140400-140499)
const (
	// ErrCodeCouponNotFound 优惠券不存在错误
	ErrCodeCouponNotFound = 140401
	// ErrCodeCouponNotUsable 优惠券不可用错误
	ErrCodeCouponNotUsable = 140402
)

// 支付网关模块 (140500-140599)
const (
	// ErrCodeGatewayTimeout 网关超时错误 (结果不确定，等待对账)
	ErrCodeGatewayTimeout = 140501
	// ErrCodeGatewayRejected 网关明确拒绝错误
	ErrCodeGatewayRejected = 140502
	// ErrCodeWebhookInvalid 回调报文解析失败错误
	ErrCodeWebhookInvalid = 140503
)

// 并发控制模块 (140600-140699)
const (
	// ErrCodeStateConflict 非法状态转换错误
	ErrCodeStateConflict = 140601
	// ErrCodeVersionConflict 乐观锁版本冲突错误
	ErrCodeVersionConflict = 140602
	// ErrCodeLockBusy 分布式锁被占用错误
	ErrCodeLockBusy = 140603
)

// 错误 reason 常量 (kratos errors 的稳定标识，HTTP 层与调用方按 reason 判断)
const (
	ReasonOrderNotFound        = "ORDER_NOT_FOUND"
	ReasonOrderNotCancellable  = "ORDER_NOT_CANCELLABLE"
	ReasonPaymentNotFound      = "PAYMENT_NOT_FOUND"
	ReasonUnknownTransaction   = "UNKNOWN_TRANSACTION"
	ReasonAmountMismatch       = "AMOUNT_MISMATCH"
	ReasonSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ReasonAlreadySubscribed    = "ALREADY_SUBSCRIBED"
	ReasonCouponNotFound       = "COUPON_NOT_FOUND"
	ReasonCouponNotUsable      = "COUPON_NOT_USABLE"
	ReasonGatewayTimeout       = "GATEWAY_TIMEOUT"
	ReasonGatewayRejected      = "GATEWAY_REJECTED"
	ReasonWebhookInvalid       = "WEBHOOK_INVALID"
	ReasonStateConflict        = "STATE_CONFLICT"
	ReasonVersionConflict      = "VERSION_CONFLICT"
	ReasonLockBusy             = "LOCK_BUSY"
)

// NewOrderNotFound 创建订单不存在错误
func NewOrderNotFound(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeOrderNotFound, ReasonOrderNotFound, format, args...)
}

// NewOrderNotCancellable 创建订单不可取消错误
func NewOrderNotCancellable(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeOrderNotCancellable, ReasonOrderNotCancellable, format, args...)
}

// NewPaymentNotFound 创建支付记录不存在错误
func NewPaymentNotFound(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodePaymentNotFound, ReasonPaymentNotFound, format, args...)
}

// NewUnknownTransaction 创建未知交易错误
func NewUnknownTransaction(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeUnknownTransaction, ReasonUnknownTransaction, format, args...)
}

// NewAmountMismatch 创建金额不一致错误
func NewAmountMismatch(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeAmountMismatch, ReasonAmountMismatch, format, args...)
}

// NewSubscriptionNotFound 创建订阅不存在错误
func NewSubscriptionNotFound(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeSubscriptionNotFound, ReasonSubscriptionNotFound, format, args...)
}

// NewAlreadySubscribed 创建重复订阅错误
func NewAlreadySubscribed(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeAlreadySubscribed, ReasonAlreadySubscribed, format, args...)
}

// NewCouponNotFound 创建优惠券不存在错误
func NewCouponNotFound(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeCouponNotFound, ReasonCouponNotFound, format, args...)
}

// NewCouponNotUsable 创建优惠券不可用错误
func NewCouponNotUsable(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeCouponNotUsable, ReasonCouponNotUsable, format, args...)
}

// NewGatewayTimeout 创建网关超时错误
func NewGatewayTimeout(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeGatewayTimeout, ReasonGatewayTimeout, format, args...)
}

// NewGatewayRejected 创建网关拒绝错误
func NewGatewayRejected(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeGatewayRejected, ReasonGatewayRejected, format, args...)
}

// NewWebhookInvalid 创建回调报文无效错误
func NewWebhookInvalid(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeWebhookInvalid, ReasonWebhookInvalid, format, args...)
}

// NewStateConflict 创建非法状态转换错误
func NewStateConflict(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeStateConflict, ReasonStateConflict, format, args...)
}

// NewVersionConflict 创建乐观锁版本冲突错误
func NewVersionConflict(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeVersionConflict, ReasonVersionConflict, format, args...)
}

// NewLockBusy 创建分布式锁占用错误
func NewLockBusy(format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(ErrCodeLockBusy, ReasonLockBusy, format, args...)
}

// IsPaymentNotFound 判断是否为支付记录不存在错误
func IsPaymentNotFound(err error) bool { return kerrors.Reason(err) == ReasonPaymentNotFound }

// IsStateConflict 判断是否为非法状态转换错误
func IsStateConflict(err error) bool { return kerrors.Reason(err) == ReasonStateConflict }

// IsVersionConflict 判断是否为版本冲突错误
func IsVersionConflict(err error) bool { return kerrors.Reason(err) == ReasonVersionConflict }

// IsUnknownTransaction 判断是否为未知交易错误
func IsUnknownTransaction(err error) bool { return kerrors.Reason(err) == ReasonUnknownTransaction }

// IsAmountMismatch 判断是否为金额不一致错误
func IsAmountMismatch(err error) bool { return kerrors.Reason(err) == ReasonAmountMismatch }

// IsGatewayTimeout 判断是否为网关超时错误
func IsGatewayTimeout(err error) bool { return kerrors.Reason(err) == ReasonGatewayTimeout }

// IsGatewayRejected 判断是否为网关拒绝错误
func IsGatewayRejected(err error) bool { return kerrors.Reason(err) == ReasonGatewayRejected }

// IsLockBusy 判断是否为分布式锁占用错误
func IsLockBusy(err error) bool { return kerrors.Reason(err) == ReasonLockBusy }
