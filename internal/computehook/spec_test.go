/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package computehook

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
)

var _ = Describe("resolvePlacement", func() {
	It("maps every shard into the 0000 index regardless of its real shard number", func() {
		cluster := &neonv1.Cluster{ObjectMeta: metav1.ObjectMeta{Name: "basic"}}
		g := &Generator{Client: fake.NewClientBuilder().Build()}

		override := &NotifyRequest{
			TenantID: "t1",
			Shards: []NotifyShard{
				{NodeID: 7, ShardNumber: 0},
				{NodeID: 9, ShardNumber: 1},
			},
		}

		placement, err := g.resolvePlacement(context.Background(), cluster, "default", "t1", override)
		Expect(err).NotTo(HaveOccurred())
		Expect(placement).To(HaveKey("0000"))
		Expect(placement).To(HaveLen(1))
		Expect(placement["0000"].Pageservers).To(HaveLen(2))
	})

	It("builds the libpq_url from cluster, node id and namespace", func() {
		cluster := &neonv1.Cluster{ObjectMeta: metav1.ObjectMeta{Name: "basic"}}
		g := &Generator{Client: fake.NewClientBuilder().Build()}

		override := &NotifyRequest{
			TenantID: "t1",
			Shards:   []NotifyShard{{NodeID: 7}},
		}

		placement, err := g.resolvePlacement(context.Background(), cluster, "default", "t1", override)
		Expect(err).NotTo(HaveOccurred())
		Expect(placement["0000"].Pageservers[0].LibpqURL).To(Equal("postgres://no_user@basic-pageserver-7.default:6400"))
	})
})

var _ = Describe("computeSettings", func() {
	It("includes the literal settings required by the spec", func() {
		settings := computeSettings("tenant123", "timeline456", []string{"postgresql://postgres:@safekeeper-basic-0.default:5454"})

		byName := map[string]Setting{}
		for _, s := range settings {
			byName[s.Name] = s
		}

		Expect(byName["fsync"].Value).To(Equal("off"))
		Expect(byName["wal_level"].Value).To(Equal("logical"))
		Expect(byName["port"].Value).To(Equal("55433"))
		Expect(byName["shared_preload_libraries"].Value).To(Equal("neon"))
		Expect(byName["neon.tenant_id"].Value).To(Equal("tenant123"))
		Expect(byName["neon.timeline_id"].Value).To(Equal("timeline456"))
	})
})
