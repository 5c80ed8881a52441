package biz

import (
	"context"

	"xinyuan_tech/billing-service/internal/errors"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewEventBus,
	NewIdempotencyGuard,
	NewRefundPolicy,
	NewBillingUsecase,
	NewReconcileUsecase,
	NewCancelUsecase,
)

// Transaction 事务接口, 由 data 层实现
// fn 内的仓库调用共享同一数据库事务, 每次状态转换是单个原子持久化操作
type Transaction interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}

// retryOnVersionConflict 乐观锁版本冲突后重读重试
// fn 每次执行都要自己重新加载实体; 非版本冲突的错误立即返回
func retryOnVersionConflict(attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if !errors.IsVersionConflict(err) {
			return err
		}
	}
	return err
}
