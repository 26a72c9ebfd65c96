package store

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// The key layout is a wire contract with operators and debugging tooling;
// changing it silently would orphan live data.
var _ = Describe("key layout", func() {
	It("addresses job cells by id and cell name", func() {
		Expect(jobKey("j-1", "spec")).To(Equal("job:j-1:spec"))
		Expect(jobKey("j-1", "status")).To(Equal("job:j-1:status"))
		Expect(jobKey("j-1", "result")).To(Equal("job:j-1:result"))
	})

	It("scopes queues by tenant", func() {
		Expect(queueKey("acme")).To(Equal("queue:acme"))
	})

	It("scopes processing lists by tenant and worker", func() {
		Expect(processingKey("acme", "worker-7")).To(Equal("processing:acme:worker-7"))
	})

	It("prefixes idempotency keys", func() {
		Expect(idempotencyKey("sha256:abc")).To(Equal("idempotency:sha256:abc"))
	})

	It("buckets usage by tenant and UTC month", func() {
		Expect(usageKey("acme")).To(Equal("usage:acme:" + time.Now().UTC().Format("200601")))
	})
})

var _ = Describe("NewRedisJobStore", func() {
	It("fills in retention defaults when unset", func() {
		s := NewRedisJobStore(nil, RedisJobStoreConfig{})
		Expect(s.cfg.JobRetention).To(Equal(7 * 24 * time.Hour))
		Expect(s.cfg.IdempotencyTTL).To(Equal(24 * time.Hour))
	})

	It("keeps explicit retention settings", func() {
		s := NewRedisJobStore(nil, RedisJobStoreConfig{
			JobRetention:   time.Hour,
			IdempotencyTTL: time.Minute,
		})
		Expect(s.cfg.JobRetention).To(Equal(time.Hour))
		Expect(s.cfg.IdempotencyTTL).To(Equal(time.Minute))
	})
})
