package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	allowed := [][2]SOSStatus{
		{StatusActive, StatusEnRoute},
		{StatusActive, StatusResolved},
		{StatusActive, StatusCancelled},
		{StatusActive, StatusRejected},
		{StatusActive, StatusFake},
		{StatusEnRoute, StatusArrived},
		{StatusEnRoute, StatusActive},
		{StatusEnRoute, StatusResolved},
		{StatusEnRoute, StatusRejected},
		{StatusEnRoute, StatusFake},
		{StatusArrived, StatusResolved},
		{StatusArrived, StatusActive},
		{StatusArrived, StatusFake},
	}
	for _, edge := range allowed {
		assert.True(t, CanTransition(edge[0], edge[1]), "%s -> %s 应当允许", edge[0], edge[1])
	}

	forbidden := [][2]SOSStatus{
		{StatusActive, StatusArrived}, // 必须先经过 EN_ROUTE
		{StatusEnRoute, StatusCancelled},
		{StatusArrived, StatusRejected},
		{StatusArrived, StatusCancelled},
	}
	for _, edge := range forbidden {
		assert.False(t, CanTransition(edge[0], edge[1]), "%s -> %s 不应允许", edge[0], edge[1])
	}

	// 终态无出边
	for _, terminal := range []SOSStatus{StatusResolved, StatusCancelled, StatusRejected, StatusFake} {
		for _, to := range []SOSStatus{StatusActive, StatusEnRoute, StatusArrived, StatusResolved, StatusCancelled, StatusRejected, StatusFake} {
			assert.False(t, CanTransition(terminal, to), "终态 %s 不应有出边", terminal)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusActive.Live())
	assert.True(t, StatusEnRoute.Live())
	assert.True(t, StatusArrived.Live())
	assert.False(t, StatusResolved.Live())

	assert.True(t, StatusFake.Terminal())
	assert.False(t, StatusArrived.Terminal())

	assert.True(t, StatusEnRoute.Valid())
	assert.False(t, SOSStatus("UNKNOWN").Valid())
}
