// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stats

import (
	"fmt"
	"net/http"

	"github.com/frostbyte73/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livekit/whip-client/pkg/config"
)

// Monitor publishes signaling counters for one client session. All methods
// are safe to call before Start, they just don't count.
type Monitor struct {
	promSessionState    prometheus.Gauge
	promCandidates      prometheus.Counter
	promPatchesSent     prometheus.Counter
	promRedirects       prometheus.Counter
	promTransportErrors prometheus.Counter

	started  core.Fuse
	shutdown core.Fuse
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) Start(conf *config.Config) error {
	m.promSessionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "livekit",
		Subsystem:   "whip_client",
		Name:        "session_state",
		ConstLabels: prometheus.Labels{"node_id": conf.NodeID},
	})
	m.promCandidates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "whip_client",
		Name:        "candidates_queued",
		ConstLabels: prometheus.Labels{"node_id": conf.NodeID},
	})
	m.promPatchesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "whip_client",
		Name:        "patches_sent",
		ConstLabels: prometheus.Labels{"node_id": conf.NodeID},
	})
	m.promRedirects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "whip_client",
		Name:        "redirects_followed",
		ConstLabels: prometheus.Labels{"node_id": conf.NodeID},
	})
	m.promTransportErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "whip_client",
		Name:        "transport_errors",
		ConstLabels: prometheus.Labels{"node_id": conf.NodeID},
	})

	prometheus.MustRegister(m.promSessionState, m.promCandidates, m.promPatchesSent, m.promRedirects, m.promTransportErrors)

	if conf.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			_ = http.ListenAndServe(fmt.Sprintf(":%d", conf.PrometheusPort), mux)
		}()
	}

	m.started.Break()

	return nil
}

func (m *Monitor) Stop() {
	m.shutdown.Break()
}

func (m *Monitor) SessionStateChanged(state int) {
	if !m.started.IsBroken() {
		return
	}
	m.promSessionState.Set(float64(state))
}

func (m *Monitor) CandidateQueued() {
	if !m.started.IsBroken() {
		return
	}
	m.promCandidates.Inc()
}

func (m *Monitor) PatchSent() {
	if !m.started.IsBroken() {
		return
	}
	m.promPatchesSent.Inc()
}

func (m *Monitor) RedirectFollowed() {
	if !m.started.IsBroken() {
		return
	}
	m.promRedirects.Inc()
}

func (m *Monitor) TransportError() {
	if !m.started.IsBroken() {
		return
	}
	m.promTransportErrors.Inc()
}
