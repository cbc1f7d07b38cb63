// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus instruments of the authorization
// server on a dedicated registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "uitsmijter"

// Metrics bundles all instruments together with the registry serving
// /metrics. Constructed once at startup and passed explicitly.
type Metrics struct {
	Registry *prometheus.Registry

	LoginSuccess       prometheus.Counter
	LoginFailure       prometheus.Counter
	Logout             prometheus.Counter
	InterceptorSuccess prometheus.Counter
	InterceptorFailure prometheus.Counter
	OAuthSuccess       prometheus.Counter
	OAuthFailure       prometheus.Counter
	RevokeSuccess      prometheus.Counter
	RevokeFailure      prometheus.Counter

	LoginAttempts     prometheus.Histogram
	AuthorizeAttempts prometheus.Histogram
	TokenStored       prometheus.Histogram

	TenantsCount prometheus.Gauge
	ClientsCount prometheus.Gauge
}

// New creates the registry and registers every instrument plus the
// standard process and Go collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto(reg)

	m := &Metrics{
		Registry: reg,

		LoginSuccess:       factory.counter("login_success", "Successful interactive logins."),
		LoginFailure:       factory.counter("login_failure", "Failed interactive logins."),
		Logout:             factory.counter("logout", "Finalized logouts."),
		InterceptorSuccess: factory.counter("interceptor_success", "Interceptor requests passed through."),
		InterceptorFailure: factory.counter("interceptor_failure", "Interceptor requests rejected or redirected."),
		OAuthSuccess:       factory.counter("oauth_success", "Successful token grants."),
		OAuthFailure:       factory.counter("oauth_failure", "Failed token grants."),
		RevokeSuccess:      factory.counter("revoke_success", "Successful session revocations."),
		RevokeFailure:      factory.counter("revoke_failure", "Failed session revocations."),

		LoginAttempts:     factory.histogram("login_attempts", "Duration of login handling in seconds."),
		AuthorizeAttempts: factory.histogram("authorize_attempts", "Duration of authorize handling in seconds."),
		TokenStored:       factory.histogram("token_stored", "Duration of session store writes in seconds."),

		TenantsCount: factory.gauge("tenants_count", "Number of loaded tenants."),
		ClientsCount: factory.gauge("clients_count", "Number of loaded clients."),
	}

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// ObserveEntityCounts updates the tenant and client gauges. Wired as the
// entity store's change hook.
func (m *Metrics) ObserveEntityCounts(tenants, clients int) {
	m.TenantsCount.Set(float64(tenants))
	m.ClientsCount.Set(float64(clients))
}

type factory struct {
	reg *prometheus.Registry
}

func promauto(reg *prometheus.Registry) factory {
	return factory{reg: reg}
}

func (f factory) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
	f.reg.MustRegister(c)
	return c
}

func (f factory) histogram(name, help string) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	})
	f.reg.MustRegister(h)
	return h
}

func (f factory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
	f.reg.MustRegister(g)
	return g
}
