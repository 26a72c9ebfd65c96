package worker_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/signing"
	"agenthub.dev/dispatch/internal/worker"
)

var _ = Describe("Poller", func() {
	var (
		client   *mockControlPlane
		executor *mockExecutor
		pub      ed25519.PublicKey
		signer   *signing.Signer
		ctx      context.Context
		cancel   context.CancelFunc
	)

	BeforeEach(func() {
		client = newMockControlPlane()
		executor = &mockExecutor{}
		ctx, cancel = context.WithCancel(context.Background())

		var priv ed25519.PrivateKey
		var err error
		pub, priv, err = ed25519.GenerateKey(rand.Reader)
		Expect(err).NotTo(HaveOccurred())
		signer = signing.NewSigner(priv)
	})

	AfterEach(func() {
		cancel()
	})

	signedJob := func() *model.Job {
		job := model.Job{
			JobID:             "job-1",
			TenantID:          "tenant-1",
			UserID:            "user-1",
			ExecutionLocation: model.ExecutionRemoteWorker,
			Status:            model.JobStatusQueued,
			RepoRoot:          "/workspace/demo",
			AllowedPaths:      []string{"src/"},
			TimeoutSec:        60,
		}
		sig, err := signer.Sign(job)
		Expect(err).NotTo(HaveOccurred())
		job.Signature = sig
		return &job
	}

	// serveOnce hands out the job on the first fetch and reports empty
	// afterwards so the poll loop can idle.
	serveOnce := func(job *model.Job) {
		var served atomic.Bool
		client.fetchPendingFn = func(context.Context) (*model.Job, error) {
			if served.CompareAndSwap(false, true) {
				return job, nil
			}
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		}
	}

	startPoller := func(p *worker.Poller) {
		go func() {
			defer GinkgoRecover()
			_ = p.Run(ctx)
		}()
	}

	Context("when a correctly signed job arrives", func() {
		It("should acknowledge it and hand it to the executor", func() {
			job := signedJob()
			serveOnce(job)

			p := worker.NewPoller(client, executor, pub, "worker-1", 10*time.Millisecond, nil)
			startPoller(p)
			defer p.Stop()

			Eventually(executor.count, time.Second).Should(Equal(1))
			Expect(client.ackCount()).To(Equal(1))
			Expect(client.violationCount()).To(BeZero())
		})
	})

	Context("when the signature does not verify", func() {
		It("should report a violation and never acknowledge or execute", func() {
			job := signedJob()
			job.RepoRoot = "/etc" // mutation after signing

			serveOnce(job)

			p := worker.NewPoller(client, executor, pub, "worker-1", 10*time.Millisecond, nil)
			startPoller(p)
			defer p.Stop()

			Eventually(client.violationCount, time.Second).Should(Equal(1))
			v := client.lastViolation()
			Expect(v.JobID).To(Equal("job-1"))
			Expect(v.WorkerID).To(Equal("worker-1"))
			Expect(v.ViolationType).To(Equal("INVALID_SIGNATURE"))

			Consistently(executor.count, 50*time.Millisecond).Should(BeZero())
			Expect(client.ackCount()).To(BeZero())
		})

		It("should reject a job signed by a different key", func() {
			_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
			Expect(err).NotTo(HaveOccurred())
			otherSigner := signing.NewSigner(otherPriv)

			job := signedJob()
			sig, err := otherSigner.Sign(*job)
			Expect(err).NotTo(HaveOccurred())
			job.Signature = sig

			serveOnce(job)

			p := worker.NewPoller(client, executor, pub, "worker-1", 10*time.Millisecond, nil)
			startPoller(p)
			defer p.Stop()

			Eventually(client.violationCount, time.Second).Should(Equal(1))
			Expect(executor.count()).To(BeZero())
		})
	})

	Describe("RunHeartbeat", func() {
		It("should post liveness immediately and then on interval", func() {
			p := worker.NewPoller(client, executor, pub, "worker-1", time.Second, []model.Capability{
				{Provider: "anthropic", Model: "claude-sonnet"},
			})

			hbCtx, hbCancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				p.RunHeartbeat(hbCtx, 10*time.Millisecond)
			}()

			Eventually(func() int {
				client.mu.Lock()
				defer client.mu.Unlock()
				return client.heartbeats
			}, time.Second).Should(BeNumerically(">=", 2))

			hbCancel()
			Eventually(done, time.Second).Should(BeClosed())
		})
	})
})
