package constants

import "time"

// 分页相关常量
const (
	// DefaultSweepPageSize 扫描任务默认分页大小
	DefaultSweepPageSize = 100
	// MaxSweepPageSize 扫描任务最大分页大小
	MaxSweepPageSize = 500
	// DefaultPageSize 默认分页大小
	DefaultPageSize = 10
	// MaxPageSize 最大分页大小
	MaxPageSize = 100
)

// 计费相关常量
const (
	// DefaultGraceWindow 默认宽限期时长 (扣款失败后保留权益的窗口)
	DefaultGraceWindow = 3 * 24 * time.Hour
	// DefaultBillingPeriodDays 默认计费周期天数
	DefaultBillingPeriodDays = 30
	// DefaultReminderDaysBefore 续费提醒提前天数
	DefaultReminderDaysBefore = 3
	// PendingReconcileAfter REQUESTED 状态支付超过该时长后触发主动对账
	PendingReconcileAfter = 10 * time.Minute
)

// 分布式锁相关常量
const (
	// ChargeLockExpiration 订阅扣款锁过期时间
	ChargeLockExpiration = 5 * time.Minute
	// TransactionLockExpiration 交易键锁过期时间 (回调处理)
	TransactionLockExpiration = 30 * time.Second
	// LockRetries 锁重试次数, 只尝试一次, 获取失败说明正在处理
	LockRetries = 1
)

// 分布式锁 key 前缀
const (
	// ChargeLockPrefix 订阅扣款锁前缀
	ChargeLockPrefix = "billing_charge_lock:sub:"
	// TransactionLockPrefix 交易回调锁前缀
	TransactionLockPrefix = "billing_txn_lock:"
)

// 网关相关常量
const (
	// DefaultGatewayTimeout 网关调用默认超时时间
	DefaultGatewayTimeout = 10 * time.Second
	// DefaultCurrency 默认币种
	DefaultCurrency = "KRW"
)

// 状态转换乐观锁重试次数
const (
	// TransitionMaxRetries 版本冲突后重读重试的最大次数
	TransitionMaxRetries = 3
)

// 取消发起方
const (
	// CancelRequestedByUser 用户自助取消
	CancelRequestedByUser = "user"
	// CancelRequestedByAdmin 管理员取消
	CancelRequestedByAdmin = "admin"
	// CancelRequestedBySystem 系统取消 (例如宽限期到期)
	CancelRequestedBySystem = "system"
)

// 退款模式
const (
	// RefundModeFull 全额退款
	RefundModeFull = "full"
	// RefundModeProratedDaily 按天按比例退款
	RefundModeProratedDaily = "prorated_daily"
)
