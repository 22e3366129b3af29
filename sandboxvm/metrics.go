// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandboxvm

import (
	"github.com/ava-labs/avalanchego/utils/wrappers"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "sandboxvm"

type metrics struct {
	blocksCommitted    prometheus.Counter
	txsIncluded        prometheus.Counter
	txsDropped         prometheus.Counter
	txsRejected        prometheus.Counter
	checkpointsCreated prometheus.Counter
	height             prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		blocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "blocks_committed",
			Help:      "Number of blocks committed",
		}),
		txsIncluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "txs_included",
			Help:      "Number of transactions included in committed blocks",
		}),
		txsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "txs_dropped",
			Help:      "Number of transactions dropped by the final re-verification",
		}),
		txsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "txs_rejected",
			Help:      "Number of transactions rejected while assembling",
		}),
		checkpointsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "checkpoints_created",
			Help:      "Number of checkpoints created",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "height",
			Help:      "Height of the last committed block",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(m.blocksCommitted),
		registerer.Register(m.txsIncluded),
		registerer.Register(m.txsDropped),
		registerer.Register(m.txsRejected),
		registerer.Register(m.checkpointsCreated),
		registerer.Register(m.height),
	)
	return m, errs.Err
}

func (m *metrics) Committed(c *Commit) {
	m.blocksCommitted.Inc()
	m.txsIncluded.Add(float64(len(c.Block.Transactions)))
	m.txsDropped.Add(float64(len(c.Dropped)))
	m.txsRejected.Add(float64(len(c.Rejected)))
	m.height.Set(float64(c.Block.Height()))
}
