package metrics

// Request instrumentation follows github.com/zsais/go-gin-prometheus, trimmed
// to the collectors and options this service exposes.

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	reqCnt = &Metric{
		Name:        "req_total",
		Description: "How many HTTP requests processed, partitioned by status code, method and route.",
		Type:        "counter_vec",
		Args:        []string{"code", "method", "url"},
	}
	reqDur = &Metric{
		Name:        "req_dur_ms",
		Description: "The HTTP request latencies in milliseconds.",
		Type:        "histogram_vec",
		Args:        []string{"code", "method", "url"},
	}
	reqSz = &Metric{
		Name:        "req_sz_bytes",
		Description: "The HTTP request sizes in bytes.",
		Type:        "summary_vec",
		Args:        []string{"code", "method", "url"},
	}
	resSz = &Metric{
		Name:        "resp_sz_bytes",
		Description: "The HTTP response sizes in bytes.",
		Type:        "summary_vec",
		Args:        []string{"code", "method", "url"},
	}
)

const defaultMetricPath = "/metrics"

// Prometheus instruments a gin engine and serves the scrape endpoint.
type Prometheus struct {
	reqCnt       *prometheus.CounterVec
	reqDur       *prometheus.HistogramVec
	reqSz, resSz *prometheus.SummaryVec

	router        *gin.Engine
	listenAddress string
	metricsPath   string
	urlLabel      func(c *gin.Context) string
	log           *zap.SugaredLogger
}

type NewPrometheusOptions struct {
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer  prometheus.Registerer
	MetricsPath string
	// URLLabel bounds the cardinality of the url label. Defaults to the raw path.
	URLLabel func(c *gin.Context) string
	Logger   *zap.SugaredLogger
}

func NewPrometheus(options NewPrometheusOptions) (*Prometheus, error) {
	p := &Prometheus{
		metricsPath: options.MetricsPath,
		urlLabel:    options.URLLabel,
		log:         options.Logger,
	}
	if p.metricsPath == "" {
		p.metricsPath = defaultMetricPath
	}
	if p.urlLabel == nil {
		p.urlLabel = func(c *gin.Context) string { return c.Request.URL.Path }
	}
	if p.log == nil {
		p.log = zap.NewNop().Sugar()
	}
	reg := options.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	for _, m := range []*Metric{reqCnt, reqDur, reqSz, resSz} {
		c, err := register(reg, m, Subsystem)
		if err != nil {
			return nil, err
		}
		switch m {
		case reqCnt:
			p.reqCnt = c.(*prometheus.CounterVec)
		case reqDur:
			p.reqDur = c.(*prometheus.HistogramVec)
		case reqSz:
			p.reqSz = c.(*prometheus.SummaryVec)
		case resSz:
			p.resSz = c.(*prometheus.SummaryVec)
		}
	}
	return p, nil
}

// SetListenAddress serves the scrape endpoint on its own listener, keeping it
// off the public router and out of the access log.
func (p *Prometheus) SetListenAddress(address string) {
	p.listenAddress = address
	if address != "" {
		p.router = gin.New()
	}
}

// Use instruments e and mounts the scrape endpoint.
func (p *Prometheus) Use(e *gin.Engine) {
	e.Use(p.HandlerFunc())
	if p.listenAddress == "" {
		e.GET(p.metricsPath, prometheusHandler())
		return
	}
	p.router.GET(p.metricsPath, prometheusHandler())
	go func() {
		if err := p.router.Run(p.listenAddress); err != nil {
			p.log.Errorw("metrics listener stopped", "addr", p.listenAddress, "error", err)
		}
	}()
}

func (p *Prometheus) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == p.metricsPath {
			c.Next()
			return
		}

		start := time.Now()
		reqSize := computeApproximateRequestSize(c.Request)

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		url := p.urlLabel(c)

		p.reqDur.WithLabelValues(status, c.Request.Method, url).Observe(MillisecondsSince(start))
		p.reqCnt.WithLabelValues(status, c.Request.Method, url).Inc()
		p.reqSz.WithLabelValues(status, c.Request.Method, url).Observe(float64(reqSize))
		p.resSz.WithLabelValues(status, c.Request.Method, url).Observe(float64(c.Writer.Size()))
	}
}
