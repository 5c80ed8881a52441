package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xinyuan_tech/billing-service/internal/biz"
	"xinyuan_tech/billing-service/internal/conf"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	klog "github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

// CronApp Cron 应用结构
type CronApp struct {
	billingUsecase   *biz.BillingUsecase
	reconcileUsecase *biz.ReconcileUsecase
}

// newLogger 创建 logger
func newLogger() klog.Logger {
	return klog.With(klog.NewStdLogger(os.Stdout),
		"ts", klog.DefaultTimestamp,
		"caller", klog.DefaultCaller,
		"service.name", "billing-cron",
	)
}

var (
	flagconf string
)

// 各任务的默认调度 (6 字段, 秒级)
const (
	defaultDueSweepSpec       = "0 * * * * *"    // 每分钟
	defaultGraceSweepSpec     = "0 0 */6 * * *"  // 每 6 小时
	defaultReconcileSweepSpec = "0 */10 * * * *" // 每 10 分钟
	defaultReminderSpec       = "0 0 10 * * *"   // 每天上午 10 点
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// 初始化配置
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	// 初始化应用
	app, cleanup, err := wireApp(&bc)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	dueSpec := specOrDefault(bc.Billing, func(b *conf.Billing) string { return b.DueSweepSpec }, defaultDueSweepSpec)
	graceSpec := specOrDefault(bc.Billing, func(b *conf.Billing) string { return b.GraceSweepSpec }, defaultGraceSweepSpec)
	reconcileSpec := specOrDefault(bc.Billing, func(b *conf.Billing) string { return b.ReconcileSweepSpec }, defaultReconcileSweepSpec)
	reminderSpec := specOrDefault(bc.Billing, func(b *conf.Billing) string { return b.ReminderSpec }, defaultReminderSpec)

	// 创建定时任务调度器 (秒级调度; 上一轮未结束时跳过本轮, 扫描不重叠)
	cronScheduler := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	// 1. 到期扣款扫描
	_, err = cronScheduler.AddFunc(dueSpec, func() {
		log.Println("[CRON] Starting due subscription sweep...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		report, err := app.billingUsecase.SweepDueSubscriptions(ctx)
		if err != nil {
			log.Printf("[CRON] Error sweeping due subscriptions: %v", err)
			return
		}
		log.Printf("[CRON] Due sweep completed: scanned=%d, charged=%d, skipped=%d, past_due=%d, pending=%d, errors=%d",
			report.Scanned, report.Charged, report.Skipped, report.PastDue, report.Pending, report.Errors)
	})
	if err != nil {
		log.Printf("Failed to add due sweep job: %v", err)
	}

	// 2. 宽限期到期扫描
	_, err = cronScheduler.AddFunc(graceSpec, func() {
		log.Println("[CRON] Starting grace period sweep...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		report, err := app.billingUsecase.SweepGracePeriod(ctx)
		if err != nil {
			log.Printf("[CRON] Error sweeping grace period: %v", err)
			return
		}
		log.Printf("[CRON] Grace sweep completed: scanned=%d, expired=%d, errors=%d",
			report.Scanned, report.Expired, report.Errors)
	})
	if err != nil {
		log.Printf("Failed to add grace sweep job: %v", err)
	}

	// 3. 主动对账: 查询网关解决超时后状态不明的支付
	_, err = cronScheduler.AddFunc(reconcileSpec, func() {
		log.Println("[CRON] Starting pending payment reconciliation...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		report, err := app.reconcileUsecase.ResolvePendingPayments(ctx)
		if err != nil {
			log.Printf("[CRON] Error resolving pending payments: %v", err)
			return
		}
		log.Printf("[CRON] Reconciliation completed: scanned=%d, errors=%d",
			report.Scanned, report.Errors)
	})
	if err != nil {
		log.Printf("Failed to add reconciliation job: %v", err)
	}

	// 4. 续费提醒
	_, err = cronScheduler.AddFunc(reminderSpec, func() {
		log.Println("[CRON] Starting renewal reminder...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		count, err := app.billingUsecase.NotifyUpcomingRenewals(ctx)
		if err != nil {
			log.Printf("[CRON] Error notifying upcoming renewals: %v", err)
			return
		}
		log.Printf("[CRON] Renewal reminder completed: notified=%d", count)
	})
	if err != nil {
		log.Printf("Failed to add renewal reminder job: %v", err)
	}

	// 启动定时任务
	cronScheduler.Start()
	log.Println("========================================")
	log.Println("Cron jobs started successfully")
	log.Println("Scheduled jobs:")
	log.Printf("  - Due sweep:         %s", dueSpec)
	log.Printf("  - Grace sweep:       %s", graceSpec)
	log.Printf("  - Reconciliation:    %s", reconcileSpec)
	log.Printf("  - Renewal reminder:  %s", reminderSpec)
	log.Println("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	// 停止定时任务, 等待运行中的扫描结束
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		log.Println("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		log.Println("Cron jobs forced to stop after timeout")
	}
}

func specOrDefault(b *conf.Billing, get func(*conf.Billing) string, fallback string) string {
	if b == nil {
		return fallback
	}
	if s := get(b); s != "" {
		return s
	}
	return fallback
}
