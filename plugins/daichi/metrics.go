package daichi

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	authTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gohome_daichi_auth_total",
		Help: "Daichi login handshakes by result",
	}, []string{"result"})
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gohome_daichi_http_attempts_total",
		Help: "Daichi HTTP attempts by outcome",
	}, []string{"outcome"})
	reauthTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gohome_daichi_reauth_total",
		Help: "Re-authentications triggered by a 401 response",
	})
	controlTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gohome_daichi_control_commands_total",
		Help: "Daichi control commands by result",
	}, []string{"result"})
	conflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gohome_daichi_conflicts_total",
		Help: "Control conflicts (409) by resolution result",
	}, []string{"result"})
	tickTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gohome_daichi_refresh_total",
		Help: "Poller ticks by result",
	}, []string{"result"})
	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gohome_daichi_refresh_duration_seconds",
		Help:    "Poller tick duration",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
	deepFetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gohome_daichi_device_state_failures_total",
		Help: "Per-device state fetches that fell back to the directory record",
	})
)

// MetricsCollectors exposes the package counters.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		authTotal,
		requestsTotal,
		reauthTotal,
		controlTotal,
		conflictsTotal,
		tickTotal,
		tickDuration,
		deepFetchFailures,
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidAuth):
		return "invalid_auth"
	default:
		return "cannot_connect"
	}
}

// MetricsCollector exports the last poller snapshot. Collect never calls the API.
type MetricsCollector struct {
	poller *Poller
	mu     sync.Mutex

	success     prometheus.Gauge
	lastSuccess prometheus.Gauge
	lastAttempt prometheus.Gauge
	devices     prometheus.Gauge

	connected     *prometheus.GaugeVec
	powerOn       *prometheus.GaugeVec
	mode          *prometheus.GaugeVec
	targetTemp    *prometheus.GaugeVec
	currentTemp   *prometheus.GaugeVec
	outdoorTemp   *prometheus.GaugeVec
	humidity      *prometheus.GaugeVec
	functionOn    *prometheus.GaugeVec
	functionValue *prometheus.GaugeVec
}

func NewMetricsCollector(poller *Poller) *MetricsCollector {
	labels := []string{"device_id", "device_name"}
	modeLabels := []string{"device_id", "device_name", "mode"}
	functionLabels := []string{"device_id", "device_name", "function"}
	return &MetricsCollector{
		poller: poller,
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gohome_daichi_scrape_success",
			Help: "Last refresh success (1=ok, 0=error)",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gohome_daichi_last_success_timestamp_seconds",
			Help: "Last successful refresh timestamp (epoch seconds)",
		}),
		lastAttempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gohome_daichi_last_refresh_timestamp_seconds",
			Help: "Last refresh attempt timestamp (epoch seconds)",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gohome_daichi_devices",
			Help: "Devices in the last snapshot",
		}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_daichi_device_connected",
			Help: "Whether the device is connected to the cloud (1=up, 0=down)",
		}, labels),
		powerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_daichi_power_on",
			Help: "Device power state (1=on, 0=off)",
		}, labels),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_daichi_operation_mode",
			Help: "Active operation mode (1=active)",
		}, modeLabels),
		targetTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_daichi_target_temperature_celsius",
			Help: "Target temperature (celsius)",
		}, labels),
		currentTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_daichi_current_temperature_celsius",
			Help: "Current room temperature (celsius)",
		}, labels),
		outdoorTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_daichi_outdoor_temperature_celsius",
			Help: "Outdoor temperature reported by the unit (celsius)",
		}, labels),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_daichi_humidity_percent",
			Help: "Indoor relative humidity (percent)",
		}, labels),
		functionOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_daichi_function_on",
			Help: "Function on/off state from the remote panel (1=on, 0=off)",
		}, functionLabels),
		functionValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_daichi_function_value",
			Help: "Function value from the remote panel",
		}, functionLabels),
	}
}

func (c *MetricsCollector) vecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.connected,
		c.powerOn,
		c.mode,
		c.targetTemp,
		c.currentTemp,
		c.outdoorTemp,
		c.humidity,
		c.functionOn,
		c.functionValue,
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.success.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.lastAttempt.Describe(ch)
	c.devices.Describe(ch)
	for _, vec := range c.vecs() {
		vec.Describe(ch)
	}
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poller.LastError() != nil || c.poller.LastSuccess().IsZero() {
		c.success.Set(0)
	} else {
		c.success.Set(1)
	}
	if last := c.poller.LastSuccess(); !last.IsZero() {
		c.lastSuccess.Set(float64(last.Unix()))
	}
	if last := c.poller.LastAttempt(); !last.IsZero() {
		c.lastAttempt.Set(float64(last.Unix()))
	}

	for _, vec := range c.vecs() {
		vec.Reset()
	}

	snapshot := c.poller.Snapshot()
	c.devices.Set(float64(snapshot.Len()))
	for _, id := range snapshot.Order {
		device := snapshot.Devices[id].Device()
		labels := prometheus.Labels{"device_id": id, "device_name": device.DisplayName()}

		c.connected.With(labels).Set(boolFloat(!device.Disconnected()))
		c.powerOn.With(labels).Set(boolFloat(device.PowerOn()))
		if mode, ok := device.Mode(); ok {
			c.mode.WithLabelValues(id, device.DisplayName(), mode.String()).Set(1)
		}
		if value, ok := device.TargetTemperature(); ok {
			c.targetTemp.With(labels).Set(value)
		}
		if value, ok := device.CurrentTemperature(); ok {
			c.currentTemp.With(labels).Set(value)
		}
		if value, ok := device.OutdoorTemperature(); ok {
			c.outdoorTemp.With(labels).Set(value)
		}
		if value, ok := device.RelativeHumidity(); ok {
			c.humidity.With(labels).Set(value)
		}
		for _, section := range device.Pult {
			for _, fn := range section.Functions {
				name := fn.ID.String()
				c.functionOn.WithLabelValues(id, device.DisplayName(), name).Set(boolFloat(fn.State.IsOn))
				if value, ok := fn.State.Value.Get(); ok {
					c.functionValue.WithLabelValues(id, device.DisplayName(), name).Set(value)
				}
			}
		}
	}

	c.success.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.lastAttempt.Collect(ch)
	c.devices.Collect(ch)
	for _, vec := range c.vecs() {
		vec.Collect(ch)
	}
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
