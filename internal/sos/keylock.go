package sos

import (
	"sync"

	"HibiscusSOS/pkg/util"
)

// keyLock 按键分片的互斥锁表
// 同一求救单上的状态转移必须串行，不同单子之间不应被一把全局锁拖住
type keyLock struct {
	shards []sync.Mutex
}

func newKeyLock(shards int) *keyLock {
	if shards <= 0 {
		shards = 64
	}
	return &keyLock{shards: make([]sync.Mutex, shards)}
}

func (k *keyLock) Lock(key string) func() {
	m := &k.shards[util.ShardIndex(key, len(k.shards))]
	m.Lock()
	return m.Unlock
}
