// Package check はトロフィーチェックのバックグラウンド処理を提供する。
// スケジューラ、チェッカー、アイデンティティ単位の排他制御を含む。
package check

import "sync"

// inflightLocks はアイデンティティ単位の実行中チェックの排他制御を行う。
// 永続化される状態とは独立した、プロセス内の一時的なロック管理。
type inflightLocks struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// newInflightLocks はinflightLocksを生成する。
func newInflightLocks() *inflightLocks {
	return &inflightLocks{
		inflight: make(map[string]struct{}),
	}
}

// TryAcquire はアイデンティティのロック取得を試みる。
// 既に実行中の場合はfalseを返し、ブロックしない。
func (l *inflightLocks) TryAcquire(identityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.inflight[identityID]; ok {
		return false
	}
	l.inflight[identityID] = struct{}{}
	return true
}

// Release はアイデンティティのロックを解放する。
// 取得していないロックの解放は何もしない。
func (l *inflightLocks) Release(identityID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, identityID)
}
