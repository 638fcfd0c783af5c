package models

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	appKeyLabel = "app_key"
	kindLabel   = "kind"
	indexLabel  = "index"
	queryLabel  = "query"

	entityKindStatic  = "static"
	entityKindDynamic = "dynamic"

	indexStatic  = "static_tree"
	indexDynamic = "dynamic_tree"
	indexTrees   = "trees"
	indexGrid    = "grid"
)

var (
	sceneCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scene_count",
		Help: "The number of scenes.",
	}, []string{appKeyLabel})

	sceneCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_count_total",
		Help: "The total number of scenes.",
	}, []string{appKeyLabel})

	entityCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "entity_count",
		Help: "The number of entities indexed in scenes.",
	}, []string{kindLabel})

	indexFinalizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "index_finalize_duration_seconds",
		Help:    "The time to finalize a spatial index.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{indexLabel})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "query_duration_seconds",
		Help:    "The time to answer a spatial query.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{queryLabel, indexLabel})
)

func instrumentIncreaseSceneGauge(appKey string) {
	sceneCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentDecreaseSceneGauge(appKey string) {
	sceneCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Dec()
}

func instrumentCountScene(appKey string) {
	sceneCountTotal.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentEntityGauge(kind string, delta float64) {
	entityCount.
		With(prometheus.Labels{kindLabel: kind}).
		Add(delta)
}

func instrumentFinalize(index string, start time.Time) {
	indexFinalizeDuration.
		With(prometheus.Labels{indexLabel: index}).
		Observe(time.Since(start).Seconds())
}

func instrumentQuery(query, index string, start time.Time) {
	queryDuration.
		With(prometheus.Labels{queryLabel: query, indexLabel: index}).
		Observe(time.Since(start).Seconds())
}
