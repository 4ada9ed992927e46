package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSamplerFirstSampleAlwaysSaved(t *testing.T) {
	s := NewSampler(15*time.Second, 50)
	now := time.Now()

	assert.True(t, s.ShouldSave("case-1", 14.5995, 120.9842, now))
}

func TestSamplerSkipsWithinBothThresholds(t *testing.T) {
	s := NewSampler(15*time.Second, 50)
	now := time.Now()

	s.RecordSave("case-1", 14.5995, 120.9842, now)

	// 2秒后、原地不动：两个阈值都没过
	assert.False(t, s.ShouldSave("case-1", 14.5995, 120.9842, now.Add(2*time.Second)))
}

func TestSamplerTimeThresholdAlone(t *testing.T) {
	s := NewSampler(15*time.Second, 50)
	now := time.Now()

	s.RecordSave("case-1", 14.5995, 120.9842, now)

	// 原地不动但超过时间阈值
	assert.True(t, s.ShouldSave("case-1", 14.5995, 120.9842, now.Add(16*time.Second)))
}

func TestSamplerDistanceThresholdAlone(t *testing.T) {
	s := NewSampler(15*time.Second, 50)
	now := time.Now()

	s.RecordSave("case-1", 14.5995, 120.9842, now)

	// 1秒内移动约111米（纬度0.001度），只有距离阈值过线
	assert.True(t, s.ShouldSave("case-1", 14.6005, 120.9842, now.Add(time.Second)))
}

func TestSamplerSubjectsIndependent(t *testing.T) {
	s := NewSampler(15*time.Second, 50)
	now := time.Now()

	s.RecordSave("case-1", 14.5995, 120.9842, now)

	// 另一个主体不受 case-1 游标影响
	assert.True(t, s.ShouldSave("case-2", 14.5995, 120.9842, now))
}

func TestSamplerCleanup(t *testing.T) {
	s := NewSampler(15*time.Second, 50)
	now := time.Now()

	s.RecordSave("case-1", 14.5995, 120.9842, now)
	s.Cleanup("case-1")

	// 游标被清理后视同首个样本
	assert.True(t, s.ShouldSave("case-1", 14.5995, 120.9842, now))
}

func TestSamplerSweep(t *testing.T) {
	s := NewSampler(15*time.Second, 50)

	s.RecordSave("stale", 14.5995, 120.9842, time.Now().Add(-2*time.Hour))
	s.RecordSave("fresh", 14.5995, 120.9842, time.Now())

	removed := s.SweepOlderThan(time.Hour)
	assert.Equal(t, 1, removed)
	assert.True(t, s.ShouldSave("stale", 14.5995, 120.9842, time.Now()))
	assert.False(t, s.ShouldSave("fresh", 14.5995, 120.9842, time.Now()))
}
