package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 协调引擎核心指标
var (
	// StatusTransitions 按 from/to 统计被接受的状态转移
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sos_status_transitions_total",
		Help: "Accepted SOS status transitions",
	}, []string{"from", "to"})

	// TransitionRejected 被拒绝的转移请求
	TransitionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sos_transition_rejected_total",
		Help: "Rejected SOS transition attempts",
	}, []string{"reason"})

	// MirrorPushes 持久侧到实时侧的镜像推送
	MirrorPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sos_mirror_push_total",
		Help: "Mirror push attempts from case service to realtime gateway",
	}, []string{"result"})

	// MirrorRebuilds 缓存未命中触发的回源重建
	MirrorRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sos_mirror_rebuild_total",
		Help: "Mirror rebuilds triggered by cache miss",
	}, []string{"result"})

	// RoomBroadcasts 房间广播次数
	RoomBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sos_room_broadcasts_total",
		Help: "Events fanned out to case rooms",
	})

	// LocationSamplesSaved 通过采样策略落库的位置快照
	LocationSamplesSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sos_location_samples_saved_total",
		Help: "Location snapshots accepted by the sampling policy",
	})

	// LocationSamplesSkipped 被采样策略丢弃的位置更新
	LocationSamplesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sos_location_samples_skipped_total",
		Help: "Location updates skipped by the sampling policy",
	})
)
