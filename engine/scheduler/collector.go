package scheduler

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "anima_scheduler"

// Collector exports Scheduler.Stats as prometheus metrics. Values are read
// on every scrape, so registering it costs nothing between scrapes.
type Collector struct {
	scheduler *Scheduler

	totalItems     *prometheus.Desc
	completedItems *prometheus.Desc
	failedItems    *prometheus.Desc
	rejectedItems  *prometheus.Desc
	frames         *prometheus.Desc
	queueDepth     *prometheus.Desc
	peakQueueDepth *prometheus.Desc
	avgRecording   *prometheus.Desc
	utilization    *prometheus.Desc
	processed      *prometheus.Desc
}

func NewCollector(s *Scheduler) *Collector {
	labels := prometheus.Labels{"scheduler": s.Name()}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, variable, labels)
	}
	return &Collector{
		scheduler:      s,
		totalItems:     desc("items_submitted_total", "Work items accepted by SubmitWork."),
		completedItems: desc("items_completed_total", "Work items recorded successfully."),
		failedItems:    desc("items_failed_total", "Work items whose recording failed."),
		rejectedItems:  desc("items_rejected_total", "Work items refused by SubmitWork."),
		frames:         desc("frames_submitted_total", "Frames that submitted at least one context."),
		queueDepth:     desc("queue_depth", "Work items waiting in the queue."),
		peakQueueDepth: desc("queue_depth_peak", "Highest queue depth since the last reset."),
		avgRecording:   desc("recording_time_avg_ms", "Rolling average recording time per item in milliseconds."),
		utilization:    desc("worker_utilization_ratio", "Share of time a worker spent recording.", "worker"),
		processed:      desc("worker_items_processed_total", "Work items processed by a worker.", "worker"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalItems
	ch <- c.completedItems
	ch <- c.failedItems
	ch <- c.rejectedItems
	ch <- c.frames
	ch <- c.queueDepth
	ch <- c.peakQueueDepth
	ch <- c.avgRecording
	ch <- c.utilization
	ch <- c.processed
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.scheduler.Stats()

	ch <- prometheus.MustNewConstMetric(c.totalItems, prometheus.CounterValue, float64(st.TotalItems))
	ch <- prometheus.MustNewConstMetric(c.completedItems, prometheus.CounterValue, float64(st.CompletedItems))
	ch <- prometheus.MustNewConstMetric(c.failedItems, prometheus.CounterValue, float64(st.FailedItems))
	ch <- prometheus.MustNewConstMetric(c.rejectedItems, prometheus.CounterValue, float64(st.RejectedItems))
	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(st.FramesSubmitted))
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(st.QueueDepth))
	ch <- prometheus.MustNewConstMetric(c.peakQueueDepth, prometheus.GaugeValue, float64(st.PeakQueueDepth))
	ch <- prometheus.MustNewConstMetric(c.avgRecording, prometheus.GaugeValue, st.AvgRecordingTimeMs)
	for i, u := range st.PerWorkerUtilization {
		worker := strconv.Itoa(i)
		ch <- prometheus.MustNewConstMetric(c.utilization, prometheus.GaugeValue, u, worker)
		ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(st.PerWorkerProcessed[i]), worker)
	}
}
