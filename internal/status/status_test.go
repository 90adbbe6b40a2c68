/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package status

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
)

var _ = Describe("IsTrue", func() {
	It("is false when the condition is absent", func() {
		branch := &neonv1.Branch{}
		Expect(IsTrue(branch, "Ready")).To(BeFalse())
	})

	It("is true only when the condition's status is True", func() {
		branch := &neonv1.Branch{}
		mergeCondition(branch, "Ready", neonv1.ConditionFalse, "Pending", "not yet", 1)
		Expect(IsTrue(branch, "Ready")).To(BeFalse())

		mergeCondition(branch, "Ready", neonv1.ConditionTrue, "Done", "all good", 1)
		Expect(IsTrue(branch, "Ready")).To(BeTrue())
	})
})

var _ = Describe("mergeCondition", func() {
	It("appends a new condition of a type it hasn't seen", func() {
		branch := &neonv1.Branch{}
		mergeCondition(branch, "Ready", neonv1.ConditionTrue, "Done", "ok", 3)

		conditions := branch.GetConditions()
		Expect(conditions).To(HaveLen(1))
		Expect(conditions[0].Type).To(Equal("Ready"))
		Expect(conditions[0].ObservedGeneration).To(Equal(int64(3)))
	})

	It("never holds two entries of the same type", func() {
		branch := &neonv1.Branch{}
		mergeCondition(branch, "Ready", neonv1.ConditionFalse, "Pending", "not yet", 1)
		mergeCondition(branch, "Ready", neonv1.ConditionTrue, "Done", "ok", 2)

		Expect(branch.GetConditions()).To(HaveLen(1))
	})

	It("only advances LastTransitionTime when Status actually changes", func() {
		branch := &neonv1.Branch{}
		mergeCondition(branch, "Ready", neonv1.ConditionFalse, "Pending", "not yet", 1)
		firstTransition := branch.GetConditions()[0].LastTransitionTime

		mergeCondition(branch, "Ready", neonv1.ConditionFalse, "StillPending", "still not yet", 2)
		Expect(branch.GetConditions()[0].LastTransitionTime).To(Equal(firstTransition))
		Expect(branch.GetConditions()[0].Reason).To(Equal("StillPending"))

		mergeCondition(branch, "Ready", neonv1.ConditionTrue, "Done", "ok", 3)
		Expect(branch.GetConditions()[0].LastTransitionTime.After(firstTransition.Time) ||
			branch.GetConditions()[0].LastTransitionTime.Equal(firstTransition)).To(BeTrue())
	})
})
