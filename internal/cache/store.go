// Package cache は外部API取得結果のTTL付きインメモリキャッシュを提供する。
package cache

import (
	"sync"
	"time"
)

// entry はキャッシュされた値と有効期限を保持する。
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store はTTL付きのインメモリキャッシュ。
// 期限切れエントリは読み取り時に無効化され、バックグラウンドで定期的に削除される。
type Store[V any] struct {
	ttl             time.Duration
	cleanupInterval time.Duration

	mu      sync.RWMutex
	entries map[string]entry[V]

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewStore はStoreを生成し、バックグラウンドで期限切れエントリのクリーンアップを開始する。
// ttlが0以下の場合、Setされた値は即座に期限切れとなる（キャッシュ無効と同等）。
func NewStore[V any](ttl, cleanupInterval time.Duration) *Store[V] {
	s := &Store[V]{
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		entries:         make(map[string]entry[V]),
		stopCh:          make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// Get はキーに対応する値を返す。存在しないか期限切れの場合はfalseを返す。
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}

	return e.value, true
}

// Set はキーに値を保存する。既存の値は上書きされ、TTLはリセットされる。
func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	s.entries[key] = entry[V]{
		value:     value,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()
}

// Delete はキーに対応するエントリを削除する。存在しないキーは何もしない。
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len は期限切れを含む現在のエントリ数を返す。
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *Store[V]) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// cleanupLoop は定期的に期限切れエントリを削除する。
func (s *Store[V]) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は期限切れエントリを削除する。
func (s *Store[V]) cleanup() {
	now := time.Now()

	s.mu.Lock()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
}
