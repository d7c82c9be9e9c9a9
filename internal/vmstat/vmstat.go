// Package vmstat exports the paging and buffer-cache counters as
// prometheus metrics. The collector reads the live stats structs at
// scrape time; nothing here starts a server or touches the network.
package vmstat

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hctung57/tinyVM/internal/cache"
	"github.com/hctung57/tinyVM/internal/vm"
)

const namespace = "tinyvm"

// CacheSource yields buffer-cache counters, typically *cache.Cache.
type CacheSource interface {
	Stats() cache.Stats
}

// VMSource yields paging counters, typically *vm.Kernel.
type VMSource interface {
	Stats() vm.Stats
}

// Collector implements prometheus.Collector over the kernel's stats.
type Collector struct {
	cacheSrc CacheSource
	vmSrc    VMSource

	cacheHits       *prometheus.Desc
	cacheMisses     *prometheus.Desc
	cacheEvictions  *prometheus.Desc
	cacheWriteBacks *prometheus.Desc

	faults    *prometheus.Desc
	evictions *prometheus.Desc
	swapOuts  *prometheus.Desc
	swapIns   *prometheus.Desc

	framesInUse *prometheus.Desc
	swapSlots   *prometheus.Desc
}

// NewCollector builds a collector over the given stat sources.
func NewCollector(cs CacheSource, vs VMSource) *Collector {
	return &Collector{
		cacheSrc: cs,
		vmSrc:    vs,
		cacheHits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "hits_total"),
			"Buffer cache lookups served from a cached line", nil, nil),
		cacheMisses: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "misses_total"),
			"Buffer cache lookups that went to the device", nil, nil),
		cacheEvictions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "evictions_total"),
			"Cache lines recycled by the clock sweep", nil, nil),
		cacheWriteBacks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "writebacks_total"),
			"Dirty cache lines written to the device", nil, nil),
		faults: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "vm", "faults_total"),
			"Page faults resolved by the supplemental page table", nil, nil),
		evictions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "vm", "evictions_total"),
			"Frames reclaimed by the second-chance sweep", nil, nil),
		swapOuts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "vm", "swap_outs_total"),
			"Pages written to the swap disk", nil, nil),
		swapIns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "vm", "swap_ins_total"),
			"Pages read back from the swap disk", nil, nil),
		framesInUse: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "vm", "frames_in_use"),
			"User frames currently allocated", nil, nil),
		swapSlots: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "vm", "swap_slots_in_use"),
			"Swap slots currently holding page data", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheEvictions
	ch <- c.cacheWriteBacks
	ch <- c.faults
	ch <- c.evictions
	ch <- c.swapOuts
	ch <- c.swapIns
	ch <- c.framesInUse
	ch <- c.swapSlots
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	cs := c.cacheSrc.Stats()
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(cs.Hits))
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(cs.Misses))
	ch <- prometheus.MustNewConstMetric(c.cacheEvictions, prometheus.CounterValue, float64(cs.Evictions))
	ch <- prometheus.MustNewConstMetric(c.cacheWriteBacks, prometheus.CounterValue, float64(cs.WriteBacks))

	vs := c.vmSrc.Stats()
	ch <- prometheus.MustNewConstMetric(c.faults, prometheus.CounterValue, float64(vs.Faults))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(vs.Evictions))
	ch <- prometheus.MustNewConstMetric(c.swapOuts, prometheus.CounterValue, float64(vs.SwapOuts))
	ch <- prometheus.MustNewConstMetric(c.swapIns, prometheus.CounterValue, float64(vs.SwapIns))
	ch <- prometheus.MustNewConstMetric(c.framesInUse, prometheus.GaugeValue, float64(vs.FramesInUse))
	ch <- prometheus.MustNewConstMetric(c.swapSlots, prometheus.GaugeValue, float64(vs.SwapSlotsInUse))
}
