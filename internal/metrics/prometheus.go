package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus registers one CounterVec per known counter up front.
type Prometheus struct {
	vecs map[string]*prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	p := &Prometheus{vecs: map[string]*prometheus.CounterVec{}}
	for name, keys := range Counters {
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help[name],
		}, keys)
		reg.MustRegister(cv)
		p.vecs[name] = cv
	}
	return p
}

// Count ignores unknown names and labels outside the counter's key set; missing labels are empty.
func (p *Prometheus) Count(_ context.Context, name string, labels ...Label) {
	cv, ok := p.vecs[name]
	if !ok {
		return
	}
	values := prometheus.Labels{}
	for _, k := range Counters[name] {
		values[k] = ""
	}
	for _, l := range labels {
		if _, ok := values[l.Key]; ok {
			values[l.Key] = l.Value
		}
	}
	cv.With(values).Inc()
}
