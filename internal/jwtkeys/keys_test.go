/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package jwtkeys

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Ed25519 keypair lifecycle", func() {
	It("generates a keypair with a non-empty kid", func() {
		pair, err := Generate()
		Expect(err).To(BeNil())
		Expect(pair.Kid).NotTo(BeEmpty())
	})

	It("round-trips signing_key, verifying_key and kid through the secret layout", func() {
		pair, err := Generate()
		Expect(err).To(BeNil())

		data, err := pair.ToSecretData()
		Expect(err).To(BeNil())
		Expect(data).To(HaveKey(SecretKeySigningKey))
		Expect(data).To(HaveKey(SecretKeyVerifyingKey))
		Expect(data).To(HaveKey(SecretKeyKid))
		Expect(data).To(HaveKey(SecretKeyJWK))
		Expect(data).To(HaveKey(SecretKeyJWKS))

		recovered, err := FromSecretData(data)
		Expect(err).To(BeNil())
		Expect(recovered.Kid).To(Equal(pair.Kid))
		Expect([]byte(recovered.VerifyingKey)).To(Equal([]byte(pair.VerifyingKey)))
		Expect([]byte(recovered.SigningKey)).To(Equal([]byte(pair.SigningKey)))
	})

	It("mints a token that verifies against the JWK/JWKS emitted from the same secret", func() {
		pair, err := Generate()
		Expect(err).To(BeNil())

		token, err := pair.MintComputeToken("my-branch", time.Now())
		Expect(err).To(BeNil())
		Expect(token).NotTo(BeEmpty())

		parsed, err := pair.VerifyComputeToken(token)
		Expect(err).To(BeNil())

		var computeID string
		Expect(parsed.Get("compute_id", &computeID)).To(BeNil())
		Expect(computeID).To(Equal("my-branch"))
	})

	It("rejects a token minted by an unrelated keypair", func() {
		pair, err := Generate()
		Expect(err).To(BeNil())
		other, err := Generate()
		Expect(err).To(BeNil())

		token, err := pair.MintComputeToken("my-branch", time.Now())
		Expect(err).To(BeNil())

		_, err = other.VerifyComputeToken(token)
		Expect(err).NotTo(BeNil())
	})
})
