package metrics

import "github.com/prometheus/client_golang/prometheus"

// HubStats is the broadcast hub introspection exported as gauges.
// *hub.Hub implements it.
type HubStats interface {
	Subscribers() int
	Published() uint64
	Capacity() int
}

// RegisterHubCollectors exposes h on reg as logstreamer_hub_subscribers,
// logstreamer_hub_published_total and logstreamer_hub_capacity.
func RegisterHubCollectors(reg prometheus.Registerer, h HubStats) error {
	cs := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_subscribers",
			Help:      "Cursors currently subscribed to the broadcast hub.",
		}, func() float64 { return float64(h.Subscribers()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_published_total",
			Help:      "Records published to the broadcast hub.",
		}, func() float64 { return float64(h.Published()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_capacity",
			Help:      "Records the hub retains for lagging subscribers.",
		}, func() float64 { return float64(h.Capacity()) }),
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
