// Package credentials 提供 llm.CredentialStore 的内存实现：
// 按 Provider 选择凭据、环境变量兜底、原子用量计数与可选的按凭据限流。
package credentials

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/genstudio/llm"
)

// Store 是并发安全的凭据仓库。凭据列表在构造后只读，计数器为每个凭据独立的原子值。
type Store struct {
	byProvider map[llm.ProviderKind][]llm.Credential
	counters   map[string]*atomic.Int64
	limiters   map[string]*rate.Limiter
	env        EnvLookup
	logger     *zap.Logger

	// 环境兜底凭据的计数器在首次上报时创建
	envMu       sync.Mutex
	envCounters map[string]*atomic.Int64
}

// Option 配置 Store。
type Option func(*Store)

// WithEnv 设置环境变量查找函数（默认 os.Getenv）。
func WithEnv(env EnvLookup) Option {
	return func(s *Store) { s.env = env }
}

// WithLogger 设置日志记录器。
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore 用给定凭据列表创建 Store。列表顺序即同一 Provider 内的候选顺序。
func NewStore(creds []llm.Credential, opts ...Option) *Store {
	s := &Store{
		byProvider:  make(map[llm.ProviderKind][]llm.Credential),
		counters:    make(map[string]*atomic.Int64, len(creds)),
		limiters:    make(map[string]*rate.Limiter),
		env:         OSEnv,
		logger:      zap.NewNop(),
		envCounters: make(map[string]*atomic.Int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "credentials"))

	for _, c := range creds {
		if c.ID == "" {
			c.ID = string(c.Provider) + "-" + strconv.Itoa(len(s.byProvider[c.Provider]))
		}
		s.byProvider[c.Provider] = append(s.byProvider[c.Provider], c)
		if _, ok := s.counters[c.ID]; !ok {
			s.counters[c.ID] = new(atomic.Int64)
		}
		if c.RateLimitRPM > 0 {
			s.limiters[c.ID] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.RateLimitRPM)), 1)
		}
	}
	s.logger.Debug("credentials loaded",
		zap.Int("count", len(creds)),
		zap.Int("providers", len(s.byProvider)))
	return s
}

// Resolve 选择规则：is_active 的凭据 → 该 Provider 的任一凭据 → 环境变量兜底。
func (s *Store) Resolve(provider llm.ProviderKind) (llm.Credential, bool) {
	list := s.byProvider[provider]
	for _, c := range list {
		if c.IsActive {
			return c, true
		}
	}
	if len(list) > 0 {
		return list[0], true
	}
	if c, ok := FromEnv(provider, s.env); ok {
		s.logger.Debug("using environment credential", zap.String("provider", string(provider)))
		return c, true
	}
	return llm.Credential{}, false
}

// ReportUsage 原子地递增凭据计数。未知 ID（如环境兜底或 override）也会被计数。
func (s *Store) ReportUsage(credentialID string) {
	if credentialID == "" {
		return
	}
	if c, ok := s.counters[credentialID]; ok {
		c.Add(1)
		return
	}
	s.envMu.Lock()
	c, ok := s.envCounters[credentialID]
	if !ok {
		c = new(atomic.Int64)
		s.envCounters[credentialID] = c
	}
	s.envMu.Unlock()
	c.Add(1)
}

// Usage 返回凭据的累计成功调用次数。
func (s *Store) Usage(credentialID string) int64 {
	if c, ok := s.counters[credentialID]; ok {
		return c.Load()
	}
	s.envMu.Lock()
	defer s.envMu.Unlock()
	if c, ok := s.envCounters[credentialID]; ok {
		return c.Load()
	}
	return 0
}

// Wait 在凭据配置了 RateLimitRPM 时阻塞直到允许下一次调用。
func (s *Store) Wait(ctx context.Context, credentialID string) error {
	l, ok := s.limiters[credentialID]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}

// Stats 返回所有已配置凭据的用量快照，按 ID 排序。
func (s *Store) Stats() []Stat {
	out := make([]Stat, 0, len(s.counters))
	for provider, list := range s.byProvider {
		for _, c := range list {
			out = append(out, Stat{
				ID:       c.ID,
				Provider: provider,
				IsActive: c.IsActive,
				BaseURL:  c.BaseURL,
				Usage:    s.counters[c.ID].Load(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stat 凭据用量统计
type Stat struct {
	ID       string           `json:"id"`
	Provider llm.ProviderKind `json:"provider"`
	IsActive bool             `json:"is_active"`
	BaseURL  string           `json:"base_url,omitempty"`
	Usage    int64            `json:"usage"`
}

var _ llm.CredentialStore = (*Store)(nil)
