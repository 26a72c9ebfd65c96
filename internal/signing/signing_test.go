package signing_test

import (
	"crypto/ed25519"
	"crypto/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/signing"
)

var _ = Describe("Signing", func() {
	var (
		pub    ed25519.PublicKey
		signer *signing.Signer
		job    model.Job
	)

	BeforeEach(func() {
		var priv ed25519.PrivateKey
		var err error
		pub, priv, err = ed25519.GenerateKey(rand.Reader)
		Expect(err).NotTo(HaveOccurred())
		signer = signing.NewSigner(priv)

		job = model.Job{
			JobID:             "5f0c6b7e-9a6e-4a9a-8c1d-2f87cf0f8e11",
			TenantID:          "tenant_a",
			UserID:            "user_1",
			ExecutionLocation: model.ExecutionRemoteWorker,
			Provider:          "OLLAMA",
			Model:             "qwen2.5-coder",
			CreatedAt:         1756400000,
			Status:            model.JobStatusQueued,
			TimeoutSec:        300,
			IdempotencyKey:    "sha256:abc",
			Steps:             []string{"implement the thing"},
			Priority:          1,
			Metadata:          map[string]any{"agent_id": "coder-1"},
			FileOperations: []model.FileOperation{
				{Action: model.FileActionModify, Path: "src/main.go"},
			},
			RepoRoot:     "/srv/repos/demo",
			AllowedPaths: []string{"src/"},
		}
	})

	Describe("Sign", func() {
		It("produces a base64-prefixed signature that verifies", func() {
			sig, err := signer.Sign(job)
			Expect(err).NotTo(HaveOccurred())
			Expect(sig).To(HavePrefix("base64:"))

			job.Signature = sig
			Expect(signing.Verify(job, pub)).To(Succeed())
		})

		It("is deterministic for the same payload", func() {
			first, err := signer.Sign(job)
			Expect(err).NotTo(HaveOccurred())
			second, err := signer.Sign(job)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
		})
	})

	Describe("Verify", func() {
		var signed model.Job

		BeforeEach(func() {
			sig, err := signer.Sign(job)
			Expect(err).NotTo(HaveOccurred())
			signed = job
			signed.Signature = sig
		})

		It("rejects a job with no signature", func() {
			signed.Signature = ""
			Expect(signing.Verify(signed, pub)).To(MatchError(signing.ErrMissingSignature))
		})

		It("rejects a malformed signature field", func() {
			signed.Signature = "hex:deadbeef"
			err := signing.Verify(signed, pub)
			Expect(err).To(MatchError(signing.ErrSignatureFormat))
		})

		It("rejects a mutated string field", func() {
			signed.Model = "some-other-model"
			Expect(signing.Verify(signed, pub)).To(MatchError(signing.ErrVerifyFailed))
		})

		It("rejects a mutated numeric field", func() {
			signed.TimeoutSec = 301
			Expect(signing.Verify(signed, pub)).To(MatchError(signing.ErrVerifyFailed))
		})

		It("rejects a mutated filesystem scope", func() {
			signed.AllowedPaths = append(signed.AllowedPaths, "/etc/")
			Expect(signing.Verify(signed, pub)).To(MatchError(signing.ErrVerifyFailed))
		})

		It("rejects a mutated step list", func() {
			signed.Steps[0] = "exfiltrate secrets"
			Expect(signing.Verify(signed, pub)).To(MatchError(signing.ErrVerifyFailed))
		})

		It("rejects a status flip", func() {
			signed.Status = model.JobStatusCompleted
			Expect(signing.Verify(signed, pub)).To(MatchError(signing.ErrVerifyFailed))
		})

		It("rejects verification under the wrong public key", func() {
			otherPub, _, err := ed25519.GenerateKey(rand.Reader)
			Expect(err).NotTo(HaveOccurred())
			Expect(signing.Verify(signed, otherPub)).To(MatchError(signing.ErrVerifyFailed))
		})

		It("survives a JSON round trip", func() {
			// Jobs travel server -> Redis -> worker as JSON; the canonical
			// payload must not depend on in-memory field ordering.
			roundTripped := signed
			roundTripped.Metadata = map[string]any{"agent_id": "coder-1"}
			Expect(signing.Verify(roundTripped, pub)).To(Succeed())
		})
	})

	Describe("PEM round trip", func() {
		It("encodes and reparses the public key", func() {
			data, err := signing.EncodePublicKeyPEM(pub)
			Expect(err).NotTo(HaveOccurred())

			parsed, err := signing.ParsePublicKeyPEM(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(pub))
		})
	})
})
