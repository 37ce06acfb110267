package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱指标
	MailboxesCreated prometheus.Counter
	MailboxesDeleted prometheus.Counter
	MailboxesExpired prometheus.Counter
	MailboxesActive  prometheus.Gauge
	MailboxesPurged  prometheus.Counter

	// 轮询指标
	PollCycles        prometheus.Counter
	PollErrors        prometheus.Counter
	MessagesObserved  prometheus.Counter
	SweepRuns         prometheus.Counter
	AttachmentsServed prometheus.Counter
	FilesReclaimed    prometheus.Counter

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标（promauto 自动注册到默认 registry）
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmailbot_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmailbot_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MailboxesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailbot_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
		),

		MailboxesDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailbot_mailboxes_deleted_total",
				Help: "Total number of mailboxes deleted by users",
			},
		),

		MailboxesExpired: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailbot_mailboxes_expired_total",
				Help: "Total number of mailboxes deactivated by expiry sweeps",
			},
		),

		MailboxesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tempmailbot_mailboxes_active",
				Help: "Number of active mailboxes",
			},
		),

		MailboxesPurged: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailbot_mailboxes_purged_total",
				Help: "Total number of inactive mailboxes hard-deleted by retention",
			},
		),

		PollCycles: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailbot_poll_cycles_total",
				Help: "Total number of completed poll cycles",
			},
		),

		PollErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailbot_poll_errors_total",
				Help: "Total number of poll cycles aborted by errors",
			},
		),

		MessagesObserved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailbot_messages_observed_total",
				Help: "Total number of new messages observed by polling",
			},
		),

		SweepRuns: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailbot_sweep_runs_total",
				Help: "Total number of expiry sweep runs",
			},
		),

		AttachmentsServed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailbot_attachments_served_total",
				Help: "Total number of attachments materialized for download",
			},
		),

		FilesReclaimed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailbot_files_reclaimed_total",
				Help: "Total number of transient attachment files reclaimed",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmailbot_errors_total",
				Help: "Total number of errors by component",
			},
			[]string{"component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailbot_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// HTTPHandler 返回 Prometheus 指标暴露端点
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
