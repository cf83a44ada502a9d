package tornapi

import "sync"

// KeyProvider はAPIキー提供のインターフェース。
// グローバルなキーローテーション状態を持たず、注入可能なケイパビリティとして扱う。
type KeyProvider interface {
	// NextKey は次に使用するAPIキーを返す。
	NextKey() string
}

// RoundRobinKeys は複数のAPIキーをラウンドロビンで払い出すKeyProvider。
// レートリミットをキー間で分散させるために使用する。
type RoundRobinKeys struct {
	mu   sync.Mutex
	keys []string
	next int
}

// NewRoundRobinKeys はRoundRobinKeysを生成する。キーが空の場合はnilを返す。
func NewRoundRobinKeys(keys []string) *RoundRobinKeys {
	if len(keys) == 0 {
		return nil
	}
	copied := make([]string, len(keys))
	copy(copied, keys)
	return &RoundRobinKeys{keys: copied}
}

// NextKey は次のAPIキーをラウンドロビンで返す。
func (r *RoundRobinKeys) NextKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.keys[r.next]
	r.next = (r.next + 1) % len(r.keys)
	return key
}
