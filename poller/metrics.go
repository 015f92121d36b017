package poller

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rwirdemann/rtusensors/modbus"
	"github.com/rwirdemann/rtusensors/telemetry"
)

// Metrics exports the transaction counters of every bus and the latest sensor
// values to Prometheus. It is a telemetry.Publisher for the values.
type Metrics struct {
	pool   *modbus.Pool
	desc   *prometheus.Desc
	values *prometheus.GaugeVec
}

var _ telemetry.Publisher = (*Metrics)(nil)

func NewMetrics(pool *modbus.Pool) *Metrics {
	return &Metrics{
		pool: pool,
		desc: prometheus.NewDesc(
			"rtusensors_modbus_transactions_total",
			"Modbus transaction outcomes per bus.",
			[]string{"bus", "counter"}, nil,
		),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtusensors_sensor_value",
			Help: "Latest value read from a sensor field.",
		}, []string{"sensor", "field"}),
	}
}

// Register adds the metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if err := reg.Register(m); err != nil {
		return err
	}
	return reg.Register(m.values)
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.desc
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, bus := range m.pool.Buses() {
		for i, v := range bus.Counters().GetAll() {
			ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(v), bus.Name, modbus.Counter(i).String())
		}
	}
}

func (m *Metrics) Publish(_ context.Context, b telemetry.Batch) error {
	for name, s := range b {
		sensorName, field := name, ""
		if i := strings.LastIndex(name, "."); i >= 0 {
			sensorName, field = name[:i], name[i+1:]
		}
		m.values.WithLabelValues(sensorName, field).Set(s.Value)
	}
	return nil
}
