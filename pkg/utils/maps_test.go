/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package utils

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MapsEqual", func() {
	It("is true for two maps with the same key/value pairs", func() {
		a := map[string]string{"app.kubernetes.io/name": "neon", "neon.io/cluster": "basic"}
		b := map[string]string{"neon.io/cluster": "basic", "app.kubernetes.io/name": "neon"}
		Expect(MapsEqual(a, b)).To(BeTrue())
	})

	It("is false when a value differs", func() {
		a := map[string]string{"neon.io/cluster": "basic"}
		b := map[string]string{"neon.io/cluster": "other"}
		Expect(MapsEqual(a, b)).To(BeFalse())
	})

	It("is false when lengths differ", func() {
		a := map[string]string{"neon.io/cluster": "basic"}
		b := map[string]string{"neon.io/cluster": "basic", "extra": "x"}
		Expect(MapsEqual(a, b)).To(BeFalse())
	})
})

var _ = Describe("StringSlicesEqual", func() {
	It("is true for identical ordered slices", func() {
		Expect(StringSlicesEqual([]string{"a", "b"}, []string{"a", "b"})).To(BeTrue())
	})

	It("is false when order differs", func() {
		Expect(StringSlicesEqual([]string{"a", "b"}, []string{"b", "a"})).To(BeFalse())
	})
})
