// Package registry 记录已发现的清单地址，保持首次出现顺序
package registry

import "m3u8capture/pkg/model"

// Registry 有序去重集合，只增不减；由单个会话独占，不做并发保护
type Registry struct {
	seen  map[model.ManifestURL]struct{}
	order []model.ManifestURL
}

// New 创建空的去重集合
func New() *Registry {
	return &Registry{seen: make(map[model.ManifestURL]struct{})}
}

// Insert 插入地址，首次插入返回 true
func (r *Registry) Insert(u model.ManifestURL) bool {
	if _, ok := r.seen[u]; ok {
		return false
	}
	r.seen[u] = struct{}{}
	r.order = append(r.order, u)
	return true
}

func (r *Registry) Size() int { return len(r.order) }

// Values 按首次出现顺序返回副本
func (r *Registry) Values() []model.ManifestURL {
	out := make([]model.ManifestURL, len(r.order))
	copy(out, r.order)
	return out
}
