package conf

import (
	"fmt"
	"time"

	"xinyuan_tech/billing-service/internal/constants"
)

type Bootstrap struct {
	Server  *Server  `yaml:"server" json:"server"`
	Data    *Data    `yaml:"data" json:"data"`
	Gateway *Gateway `yaml:"gateway" json:"gateway"`
	Billing *Billing `yaml:"billing" json:"billing"`
	Log     *Log     `yaml:"log" json:"log"`
}

type Server struct {
	Http struct {
		Addr    string `yaml:"addr" json:"addr"`
		Timeout string `yaml:"timeout" json:"timeout"`
	} `yaml:"http" json:"http"`
}

type Data struct {
	Database struct {
		Driver          string `yaml:"driver" json:"driver"`
		Source          string `yaml:"source" json:"source"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	} `yaml:"database" json:"database"`
	Redis struct {
		Addr         string `yaml:"addr" json:"addr"`
		Password     string `yaml:"password" json:"password"`
		Db           int32  `yaml:"db" json:"db"`
		ReadTimeout  string `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
	} `yaml:"redis" json:"redis"`
}

// Gateway 支付网关配置
type Gateway struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Timeout   string `yaml:"timeout" json:"timeout"`
}

// Billing 计费策略配置
type Billing struct {
	// DueSweepSpec 到期扣款扫描的 cron 表达式
	DueSweepSpec string `yaml:"due_sweep_spec" json:"due_sweep_spec"`
	// GraceSweepSpec 宽限期到期扫描的 cron 表达式
	GraceSweepSpec string `yaml:"grace_sweep_spec" json:"grace_sweep_spec"`
	// ReconcileSweepSpec 主动对账扫描的 cron 表达式
	ReconcileSweepSpec string `yaml:"reconcile_sweep_spec" json:"reconcile_sweep_spec"`
	// ReminderSpec 续费提醒任务的 cron 表达式
	ReminderSpec string `yaml:"reminder_spec" json:"reminder_spec"`
	// GraceWindowDays 宽限期天数
	GraceWindowDays int `yaml:"grace_window_days" json:"grace_window_days"`
	// SweepPageSize 扫描分页大小
	SweepPageSize int `yaml:"sweep_page_size" json:"sweep_page_size"`
	// ReminderDaysBefore 续费提醒提前天数
	ReminderDaysBefore int `yaml:"reminder_days_before" json:"reminder_days_before"`
	// Refund 退款策略 (可插拔, 不在代码中写死)
	Refund *Refund `yaml:"refund" json:"refund"`
	// Coupon 优惠券回收策略
	Coupon *Coupon `yaml:"coupon" json:"coupon"`
}

// Refund 退款策略配置
type Refund struct {
	// Mode 退款模式: full / prorated_daily
	Mode string `yaml:"mode" json:"mode"`
}

// Coupon 优惠券策略配置
type Coupon struct {
	// ReissueWithinValidity 仅在优惠券有效期内取消才重新发放
	ReissueWithinValidity bool `yaml:"reissue_within_validity" json:"reissue_within_validity"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// GraceWindow 宽限期时长
func (b *Billing) GraceWindow() time.Duration {
	if b == nil || b.GraceWindowDays <= 0 {
		return constants.DefaultGraceWindow
	}
	return time.Duration(b.GraceWindowDays) * 24 * time.Hour
}

// PageSize 扫描分页大小 (带上下界保护)
func (b *Billing) PageSize() int {
	if b == nil || b.SweepPageSize <= 0 {
		return constants.DefaultSweepPageSize
	}
	if b.SweepPageSize > constants.MaxSweepPageSize {
		return constants.MaxSweepPageSize
	}
	return b.SweepPageSize
}

// RefundMode 退款模式
func (b *Billing) RefundMode() string {
	if b == nil || b.Refund == nil || b.Refund.Mode == "" {
		return constants.RefundModeFull
	}
	return b.Refund.Mode
}

// CouponReissueWithinValidity 优惠券回收策略
func (b *Billing) CouponReissueWithinValidity() bool {
	if b == nil || b.Coupon == nil {
		return true
	}
	return b.Coupon.ReissueWithinValidity
}

// GatewayTimeout 网关调用超时时间
func (g *Gateway) GatewayTimeout() time.Duration {
	if g == nil || g.Timeout == "" {
		return constants.DefaultGatewayTimeout
	}
	d, err := time.ParseDuration(g.Timeout)
	if err != nil || d <= 0 {
		return constants.DefaultGatewayTimeout
	}
	return d
}

// Validate validates the configuration
func (b *Bootstrap) Validate() error {
	if b.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if b.Server.Http.Addr == "" {
		return fmt.Errorf("server.http.addr is required")
	}
	if b.Data == nil {
		return fmt.Errorf("data configuration is required")
	}
	if b.Data.Database.Source == "" {
		return fmt.Errorf("data.database.source is required")
	}
	if b.Gateway == nil || b.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if b.Gateway.SecretKey == "" {
		return fmt.Errorf("gateway.secret_key is required")
	}
	if b.Billing == nil {
		return fmt.Errorf("billing configuration is required")
	}
	if m := b.Billing.RefundMode(); m != constants.RefundModeFull && m != constants.RefundModeProratedDaily {
		return fmt.Errorf("billing.refund.mode must be %q or %q", constants.RefundModeFull, constants.RefundModeProratedDaily)
	}
	if b.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	return nil
}
