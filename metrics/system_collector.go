package metrics

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"tradedeck/logger"
)

// SystemMetricsCollector 进程指标采集器
type SystemMetricsCollector struct {
	pm       *PrometheusMetrics
	interval time.Duration
	proc     *process.Process
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSystemMetricsCollector 创建进程指标采集器
func NewSystemMetricsCollector(interval time.Duration) *SystemMetricsCollector {
	ctx, cancel := context.WithCancel(context.Background())

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("⚠️ [指标] 获取进程句柄失败: %v", err)
	}

	return &SystemMetricsCollector{
		pm:       GetPrometheusMetrics(),
		interval: interval,
		proc:     proc,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 启动采集
func (smc *SystemMetricsCollector) Start() {
	go smc.collectLoop()
}

// Stop 停止采集
func (smc *SystemMetricsCollector) Stop() {
	if smc.cancel != nil {
		smc.cancel()
	}
}

// collectLoop 采集循环
func (smc *SystemMetricsCollector) collectLoop() {
	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	// 立即采集一次
	smc.collect()

	for {
		select {
		case <-smc.ctx.Done():
			return
		case <-ticker.C:
			smc.collect()
		}
	}
}

// collect 采集进程指标
func (smc *SystemMetricsCollector) collect() {
	smc.pm.SetGoroutineCount(runtime.NumGoroutine())

	if smc.proc == nil {
		return
	}

	if cpuPercent, err := smc.proc.CPUPercent(); err == nil {
		smc.pm.SetProcessCPUPercent(cpuPercent)
	}

	if memInfo, err := smc.proc.MemoryInfo(); err == nil && memInfo != nil {
		smc.pm.SetProcessMemoryMB(float64(memInfo.RSS) / 1024 / 1024)
	}
}
