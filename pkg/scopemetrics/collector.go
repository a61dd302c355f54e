// Package scopemetrics exports scope lifecycle counters to Prometheus.
package scopemetrics

import (
	"github.com/goliatone/go-cells/pkg/scope"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "cells"
	subsystem = "scope"
)

// Collector counts scope events. It satisfies scope.Metrics and
// prometheus.Collector, so one value is handed to scope.WithMetrics and
// registered with a registry.
type Collector struct {
	created      *prometheus.CounterVec
	disposed     *prometheus.CounterVec
	clones       *prometheus.CounterVec
	reclassified *prometheus.CounterVec
	overrides    *prometheus.CounterVec
}

var (
	_ scope.Metrics        = (*Collector)(nil)
	_ prometheus.Collector = (*Collector)(nil)
)

// New builds a collector. constLabels are attached to every series.
func New(constLabels prometheus.Labels) *Collector {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}
	return &Collector{
		created:      counter("created_total", "Scopes created.", "scope"),
		disposed:     counter("disposed_total", "Scopes cleaned up.", "scope"),
		clones:       counter("clones_total", "Scoped clones created, by kind.", "scope", "kind"),
		reclassified: counter("reclassifications_total", "Dependent cell reclassifications, by target mode.", "scope", "to"),
		overrides:    counter("write_overrides_total", "Inherited custom writes routed to their owning scope.", "scope"),
	}
}

func (c *Collector) ScopeCreated(name string) {
	c.created.WithLabelValues(name).Inc()
}

func (c *Collector) ScopeDisposed(name string) {
	c.disposed.WithLabelValues(name).Inc()
}

// CloneCreated folds the dependent kinds into "dependent".
func (c *Collector) CloneCreated(name, kind string) {
	switch kind {
	case "dependent-scoped", "dependent-unscoped":
		kind = "dependent"
	}
	c.clones.WithLabelValues(name, kind).Inc()
}

func (c *Collector) Reclassified(name, to string) {
	c.reclassified.WithLabelValues(name, to).Inc()
}

func (c *Collector) WriteOverride(name string) {
	c.overrides.WithLabelValues(name).Inc()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, vec := range c.vectors() {
		vec.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, vec := range c.vectors() {
		vec.Collect(ch)
	}
}

func (c *Collector) vectors() []*prometheus.CounterVec {
	return []*prometheus.CounterVec{c.created, c.disposed, c.clones, c.reclassified, c.overrides}
}
