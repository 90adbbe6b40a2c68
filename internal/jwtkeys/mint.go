/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package jwtkeys

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// ComputeTokenTTL is the expiry of tokens minted for the /configure call,
// per §4.7: a short-lived JWT with one-hour expiry.
const ComputeTokenTTL = time.Hour

// MintComputeToken builds and signs a JWT authorizing a call to a compute
// pod's /configure endpoint, carrying the claims described in §4.7:
// compute_id, scope=[compute], role=compute_ctl:admin, alg EdDSA, kid header
// matching the keypair.
func (k *KeyPair) MintComputeToken(computeID string, now time.Time) (string, error) {
	token, err := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Claim("compute_id", computeID).
		Claim("scope", []string{"compute"}).
		Claim("role", "compute_ctl:admin").
		IssuedAt(now).
		Expiration(now.Add(ComputeTokenTTL)).
		Build()
	if err != nil {
		return "", fmt.Errorf("building compute token: %w", err)
	}

	signingKey, err := jwk.Import(k.SigningKey)
	if err != nil {
		return "", fmt.Errorf("importing signing key: %w", err)
	}
	if err := signingKey.Set(jwk.KeyIDKey, k.Kid); err != nil {
		return "", err
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.EdDSA(), signingKey, jws.WithProtectedHeaders(
		newHeaderWithKid(k.Kid),
	)))
	if err != nil {
		return "", fmt.Errorf("signing compute token: %w", err)
	}
	return string(signed), nil
}

func newHeaderWithKid(kid string) jws.Headers {
	h := jws.NewHeaders()
	_ = h.Set(jws.KeyIDKey, kid)
	return h
}

// VerifyComputeToken parses and verifies a token minted by MintComputeToken
// against this keypair's verifying key, returning the parsed token on
// success. Used by tests exercising the round-trip law in §8: a token
// minted with the stored signing key verifies against the JWK/JWKS emitted
// from the same secret.
func (k *KeyPair) VerifyComputeToken(raw string) (jwt.Token, error) {
	verifyingKey, err := jwk.Import(k.VerifyingKey)
	if err != nil {
		return nil, fmt.Errorf("importing verifying key: %w", err)
	}
	if err := verifyingKey.Set(jwk.KeyIDKey, k.Kid); err != nil {
		return nil, err
	}

	token, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.EdDSA(), verifyingKey))
	if err != nil {
		return nil, fmt.Errorf("verifying compute token: %w", err)
	}
	return token, nil
}
