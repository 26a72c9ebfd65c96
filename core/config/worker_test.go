package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.dev/dispatch/core/config"
)

var _ = Describe("LoadWorker", func() {
	write := func(content string) string {
		path := filepath.Join(GinkgoT().TempDir(), "worker.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	It("parses duration strings for intervals and timeouts", func() {
		cfg, err := config.LoadWorker(write(`
worker:
  id: worker-1
server:
  url: http://localhost:8080
  token: secret
  poll_interval: 5s
  heartbeat_interval: 1m
  timeout: 45s
security:
  public_key_path: /keys/signing.pub.pem
execution:
  marker_poll: 250ms
`))

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.PollInterval.Std()).To(Equal(5 * time.Second))
		Expect(cfg.Server.HeartbeatInterval.Std()).To(Equal(time.Minute))
		Expect(cfg.Server.Timeout.Std()).To(Equal(45 * time.Second))
		Expect(cfg.Execution.MarkerPoll.Std()).To(Equal(250 * time.Millisecond))
	})

	It("rejects a bare number without a unit", func() {
		_, err := config.LoadWorker(write(`
worker:
  id: worker-1
server:
  url: http://localhost:8080
  poll_interval: 5
security:
  public_key_path: /keys/signing.pub.pem
`))

		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("invalid duration"))
	})

	It("fills interval and protocol defaults when omitted", func() {
		cfg, err := config.LoadWorker(write(`
worker:
  id: worker-1
server:
  url: http://localhost:8080
security:
  public_key_path: /keys/signing.pub.pem
`))

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.PollInterval.Std()).To(Equal(5 * time.Second))
		Expect(cfg.Server.HeartbeatInterval.Std()).To(Equal(30 * time.Second))
		Expect(cfg.Server.Timeout.Std()).To(Equal(35 * time.Second))
		Expect(cfg.Execution.TaskFile).To(Equal("TASK.md"))
		Expect(cfg.Execution.CompletionMarker).To(Equal(".task_completed"))
		Expect(cfg.Execution.MarkerPoll.Std()).To(Equal(time.Second))
	})

	It("requires worker id, server url, and the public key path", func() {
		_, err := config.LoadWorker(write(`
server:
  url: http://localhost:8080
security:
  public_key_path: /keys/signing.pub.pem
`))
		Expect(err).To(MatchError(ContainSubstring("worker.id is required")))
	})
})
