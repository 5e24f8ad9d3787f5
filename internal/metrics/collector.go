// Package metrics renders relay counters in the Prometheus text exposition
// format without pulling in the client_golang dependency tree.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide collector the relay records into.
var Default = NewCollector("ytrelay")

// Collector aggregates counters and histograms.
type Collector struct {
	namespace string
	startTime time.Time

	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
}

func NewCollector(namespace string) *Collector {
	return &Collector{
		namespace:  namespace,
		startTime:  time.Now(),
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
	}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records v in every bucket whose upper bound is >= v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns or creates the counter name{labels}. name is prefixed with
// the collector namespace.
func (c *Collector) Counter(name, help, labels string) *Counter {
	full := c.namespace + "_" + name
	key := full + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[key]; ok {
		return ctr
	}
	ctr := &Counter{name: full, help: help, labels: labels}
	c.counters[key] = ctr
	return ctr
}

// Histogram returns or creates the histogram name{labels}. A +Inf bucket is
// always appended.
func (c *Collector) Histogram(name, help, labels string, bounds []float64) *Histogram {
	full := c.namespace + "_" + name
	key := full + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[key]; ok {
		return h
	}
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	if len(b) == 0 || !math.IsInf(b[len(b)-1], 1) {
		b = append(b, math.Inf(1))
	}
	h := &Histogram{name: full, help: help, labels: labels, bounds: b, buckets: make([]int64, len(b))}
	c.histograms[key] = h
	return h
}

// WriteTo renders every metric, sorted by name and labels.
func (c *Collector) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP %s_uptime_seconds Time since start in seconds\n", c.namespace)
	fmt.Fprintf(&sb, "# TYPE %s_uptime_seconds gauge\n", c.namespace)
	fmt.Fprintf(&sb, "%s_uptime_seconds %d\n", c.namespace, int64(c.Uptime().Seconds()))

	c.mu.Lock()
	counters := make([]*Counter, 0, len(c.counters))
	for _, ctr := range c.counters {
		counters = append(counters, ctr)
	}
	histograms := make([]*Histogram, 0, len(c.histograms))
	for _, h := range c.histograms {
		histograms = append(histograms, h)
	}
	c.mu.Unlock()

	sort.Slice(counters, func(i, j int) bool {
		if counters[i].name != counters[j].name {
			return counters[i].name < counters[j].name
		}
		return counters[i].labels < counters[j].labels
	})
	sort.Slice(histograms, func(i, j int) bool {
		if histograms[i].name != histograms[j].name {
			return histograms[i].name < histograms[j].name
		}
		return histograms[i].labels < histograms[j].labels
	})

	lastName := ""
	for _, ctr := range counters {
		if ctr.name != lastName {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n", ctr.name, ctr.help, ctr.name)
			lastName = ctr.name
		}
		fmt.Fprintf(&sb, "%s%s %d\n", ctr.name, braced(ctr.labels), ctr.Value())
	}

	lastName = ""
	for _, h := range histograms {
		h.mu.Lock()
		if h.name != lastName {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
			lastName = h.name
		}
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s_bucket%s %d\n", h.name, braced(joinLabels(h.labels, `le="`+bound+`"`)), h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s_sum%s %f\n", h.name, braced(h.labels), h.sum)
		fmt.Fprintf(&sb, "%s_count%s %d\n", h.name, braced(h.labels), h.count)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Handler serves the metrics page.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteTo(w)
	}
}

func braced(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func joinLabels(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

var (
	UpdatesMessage  = Default.Counter("updates_total", "Webhook updates received", `kind="message"`)
	UpdatesCallback = Default.Counter("updates_total", "Webhook updates received", `kind="callback_query"`)
	UpdatesOther    = Default.Counter("updates_total", "Webhook updates received", `kind="other"`)
	UpdatesRejected = Default.Counter("updates_rejected_total", "Webhook requests rejected before handling", "")

	URLsNotFound       = Default.Counter("urls_not_found_total", "Messages without a YouTube link", "")
	SelectorsSent      = Default.Counter("selectors_sent_total", "Channel selector prompts sent", "")
	JobsCreated        = Default.Counter("jobs_created_total", "Jobs inserted into the datastore", "")
	JobsFailed         = Default.Counter("jobs_failed_total", "Callbacks that ended in an error message", "")
	DuplicateCallbacks = Default.Counter("duplicate_callbacks_total", "Callbacks skipped because their id was already claimed", "")

	DatastoreLatency = Default.Histogram("datastore_insert_seconds", "Job insert latency in seconds", "",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
)
