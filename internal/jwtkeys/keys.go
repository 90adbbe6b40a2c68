/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package jwtkeys implements the Ed25519 keypair/JWKS lifecycle described in
// §4.9 of the specification: one keypair generated per Cluster, stored as a
// five-key Kubernetes Secret, and used both to emit a JWKS for compute pods
// to verify against and to mint short-lived JWTs for the compute hook.
//
// Grounded on oltp.molnett.org/neon-operator's own util/jwt_keys.rs (see
// original_source/crates/neon_cluster/src/util/jwt_keys.rs): the secret
// layout, the kid derivation, and the JWK shape are carried over verbatim,
// re-expressed with github.com/lestrrat-go/jwx/v3 in place of
// ed25519-dalek + serde_json.
package jwtkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Secret data keys, matching §3 of the specification.
const (
	SecretKeySigningKey   = "signing_key"
	SecretKeyVerifyingKey = "verifying_key"
	SecretKeyKid          = "kid"
	SecretKeyJWK          = "jwk"
	SecretKeyJWKS         = "jwks"
)

var b64 = base64.RawURLEncoding

// KeyPair is an Ed25519 signing/verifying keypair plus its derived kid, JWK
// and JWKS representations.
type KeyPair struct {
	SigningKey   ed25519.PrivateKey
	VerifyingKey ed25519.PublicKey
	Kid          string
}

// Generate creates a fresh Ed25519 keypair and derives its kid as the
// base64url-no-pad SHA-256 digest of the verifying key, as specified.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 keypair: %w", err)
	}
	return &KeyPair{
		SigningKey:   priv,
		VerifyingKey: pub,
		Kid:          kidFor(pub),
	}, nil
}

func kidFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return b64.EncodeToString(sum[:])
}

// JWK returns the single-key JWK representation of the verifying key:
// {use, key_ops, alg, kid, kty, crv, x}.
func (k *KeyPair) JWK() (jwk.Key, error) {
	key, err := jwk.Import(k.VerifyingKey)
	if err != nil {
		return nil, fmt.Errorf("importing verifying key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, k.Kid); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.EdDSA()); err != nil {
		return nil, err
	}
	if err := key.Set("use", "sig"); err != nil {
		return nil, err
	}
	if err := key.Set("key_ops", []string{"verify"}); err != nil {
		return nil, err
	}
	return key, nil
}

// JWKS returns the single-key JWKS JSON document: {"keys":[<jwk>]}.
func (k *KeyPair) JWKS() (jwk.Set, error) {
	key, err := k.JWK()
	if err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("building JWKS: %w", err)
	}
	return set, nil
}

// JWKJSON marshals the JWK to JSON bytes.
func (k *KeyPair) JWKJSON() ([]byte, error) {
	key, err := k.JWK()
	if err != nil {
		return nil, err
	}
	return json.Marshal(key)
}

// JWKSJSON marshals the JWKS to JSON bytes.
func (k *KeyPair) JWKSJSON() ([]byte, error) {
	set, err := k.JWKS()
	if err != nil {
		return nil, err
	}
	return json.Marshal(set)
}

// ToSecretData encodes the keypair into the five-key layout described in
// §3: signing_key, verifying_key (both base64url no-pad), kid (ASCII), jwk
// and jwks (both JSON).
func (k *KeyPair) ToSecretData() (map[string][]byte, error) {
	jwkJSON, err := k.JWKJSON()
	if err != nil {
		return nil, err
	}
	jwksJSON, err := k.JWKSJSON()
	if err != nil {
		return nil, err
	}
	return map[string][]byte{
		SecretKeySigningKey:   []byte(b64.EncodeToString(k.SigningKey)),
		SecretKeyVerifyingKey: []byte(b64.EncodeToString(k.VerifyingKey)),
		SecretKeyKid:          []byte(k.Kid),
		SecretKeyJWK:          jwkJSON,
		SecretKeyJWKS:         jwksJSON,
	}, nil
}

// FromSecretData decodes a keypair back from the layout ToSecretData wrote.
// Round-tripping through ToSecretData/FromSecretData yields the same
// signing_key, verifying_key and kid, per §8's round-trip law.
func FromSecretData(data map[string][]byte) (*KeyPair, error) {
	signingRaw, ok := data[SecretKeySigningKey]
	if !ok {
		return nil, fmt.Errorf("secret data missing %q", SecretKeySigningKey)
	}
	verifyingRaw, ok := data[SecretKeyVerifyingKey]
	if !ok {
		return nil, fmt.Errorf("secret data missing %q", SecretKeyVerifyingKey)
	}
	kidRaw, ok := data[SecretKeyKid]
	if !ok {
		return nil, fmt.Errorf("secret data missing %q", SecretKeyKid)
	}

	signingKey, err := b64.DecodeString(string(signingRaw))
	if err != nil {
		return nil, fmt.Errorf("decoding signing_key: %w", err)
	}
	verifyingKey, err := b64.DecodeString(string(verifyingRaw))
	if err != nil {
		return nil, fmt.Errorf("decoding verifying_key: %w", err)
	}
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing_key has invalid length %d", len(signingKey))
	}
	if len(verifyingKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("verifying_key has invalid length %d", len(verifyingKey))
	}

	return &KeyPair{
		SigningKey:   ed25519.PrivateKey(signingKey),
		VerifyingKey: ed25519.PublicKey(verifyingKey),
		Kid:          string(kidRaw),
	}, nil
}

// SecretName returns the deterministic per-cluster secret name:
// "{cluster}-jwt-keys".
func SecretName(clusterName string) string {
	return clusterName + "-jwt-keys"
}

// BuildSecret wraps ToSecretData in a corev1.Secret object ready to be
// created, with TypeMeta set for server-side apply.
func BuildSecret(namespace, clusterName string, keyPair *KeyPair) (*corev1.Secret, error) {
	data, err := keyPair.ToSecretData()
	if err != nil {
		return nil, err
	}
	return &corev1.Secret{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Secret"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      SecretName(clusterName),
			Namespace: namespace,
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}, nil
}
