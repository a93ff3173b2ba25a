package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed       int64
	errorsScan       int64
	warnsFeed        int64
	warnsScan        int64
	streamReads      int64
	refreshes        int64
	scansRun         int64
	alertsSent       int64
	alertsSuppressed int64
	snapshotWrites   int64
	channels         sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&warnsFeed, 1)
	} else if strings.Contains(component, "scan") || strings.Contains(component, "alert") {
		atomic.AddInt64(&warnsScan, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&errorsFeed, 1)
	} else if strings.Contains(component, "scan") || strings.Contains(component, "alert") {
		atomic.AddInt64(&errorsScan, 1)
	}
}

// IncrementStreamRead counts one decoded websocket message of the given size.
func IncrementStreamRead(exchange string, size int) {
	atomic.AddInt64(&streamReads, 1)
	recordChannel(exchange+"_ws", size)
}

// IncrementRefresh counts one completed health/metadata refresh.
func IncrementRefresh(exchange string) {
	atomic.AddInt64(&refreshes, 1)
	recordChannel(exchange+"_rest", 0)
}

// IncrementScan counts one divergence scan cycle.
func IncrementScan() {
	atomic.AddInt64(&scansRun, 1)
}

// IncrementAlertSent counts one alert handed to the notifier.
func IncrementAlertSent() {
	atomic.AddInt64(&alertsSent, 1)
}

// IncrementAlertSuppressed counts one alert swallowed by the cooldown cache.
func IncrementAlertSuppressed() {
	atomic.AddInt64(&alertsSuppressed, 1)
}

// IncrementSnapshotWrite counts one state snapshot flushed to storage.
func IncrementSnapshotWrite(size int64) {
	atomic.AddInt64(&snapshotWrites, 1)
	recordChannel("snapshot_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_feed":       atomic.LoadInt64(&errorsFeed),
		"errors_scan":       atomic.LoadInt64(&errorsScan),
		"warns_feed":        atomic.LoadInt64(&warnsFeed),
		"warns_scan":        atomic.LoadInt64(&warnsScan),
		"stream_reads":      atomic.LoadInt64(&streamReads),
		"refreshes":         atomic.LoadInt64(&refreshes),
		"scans":             atomic.LoadInt64(&scansRun),
		"alerts_sent":       atomic.LoadInt64(&alertsSent),
		"alerts_suppressed": atomic.LoadInt64(&alertsSuppressed),
		"snapshot_writes":   atomic.LoadInt64(&snapshotWrites),
		"goroutines":        runtime.NumGoroutine(),
		"cpu_percent":       cpuPct,
		"memory_mb":         int64(memStats.Used) / 1024 / 1024,
		"disk_mb":           int64(diskStats.Used) / 1024 / 1024,
		"channels":          channelData,
		"net_bytes_sent":    int64(bytesSent),
		"net_bytes_recv":    int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsScan"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_scan"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("StreamMessages"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["stream_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Refreshes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["refreshes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Scans"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["scans"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("AlertsSent"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["alerts_sent"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("AlertsSuppressed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["alerts_suppressed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("SnapshotWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["snapshot_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
