package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式运行锁
// ============================================================================
//
// 【为什么需要运行锁？】
//
// 场景：两个调度实例在同一分钟同时触发 daily 批次
//
// 批次内部的"预读当日流水去重"只在单进程内生效，两个实例各自预读、
// 各自写入，唯一索引最终会挡住重复行，但余额入账走的是批量事务，
// 两个实例同时跑会把同一批零散流水各写一半，排查起来非常痛苦。
//
// 加锁后：同一 (任务, 结算日) 只有一个实例真正执行，另一个直接跳过。
//
// 【Redis 锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: key 不存在才设置，保证互斥
//   - EX: 过期兜底，持锁进程崩溃后锁自动释放
//   - value: 持有者标识，释放时校验，避免删掉别人的锁
//
// 释放：Lua 脚本把"校验 value + DEL"做成原子操作
//
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

// DistributedLock 基于 Redis SetNX 的互斥锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞），返回是否成功
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】先校验 value 再删除，且用 Lua 保证两步原子。
// 否则：A 持锁超时自动过期 -> B 拿到锁 -> A 执行完调用 Unlock，
// 不校验的话 A 会把 B 的锁删掉。
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewJobRunLock 批次运行锁（按任务 + 结算日维度）
//
// 【设计思考】锁粒度为什么是 (job, date)？
//
// 全局一把锁会让互不相干的批次（daily 和 sponsor）串行执行；
// 只按 job 加锁则补跑历史日期时会和当日批次互斥。
// 按 (job, date) 加锁：不同任务、不同结算日都能并行，
// 只有"同一任务同一天"这个真正危险的组合被挡住。
func NewJobRunLock(client *redis.Client, jobType, rewardDate, value string, expiration time.Duration) *DistributedLock {
	key := fmt.Sprintf("reward:lock:job:%s:%s", jobType, rewardDate)
	return NewDistributedLock(client, key, value, expiration)
}
