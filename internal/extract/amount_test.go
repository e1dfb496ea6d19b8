package extract

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Amount", func() {
	Describe("ParseAmount", func() {
		It("should accept a comma separator", func() {
			a, err := ParseAmount("15,5")
			Expect(err).NotTo(HaveOccurred())
			Expect(a.String()).To(Equal("15.50"))
			Expect(a.Float64()).To(BeNumerically("~", 15.5))
		})

		It("should round to two fraction digits", func() {
			a, err := ParseAmount("2.345678")
			Expect(err).NotTo(HaveOccurred())
			Expect(a.String()).To(Equal("2.35"))
		})

		It("should reject text that is not a number", func() {
			_, err := ParseAmount("1.234.56")
			Expect(err).To(HaveOccurred())
			_, err = ParseAmount("")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("JSON", func() {
		It("should encode the formatted text", func() {
			data, err := json.Marshal(Result{Price: ptrAmount(NewAmount(9))})
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal(`{"date_time":null,"price":"9.00","vat":null}`))
		})

		It("should decode strings with either separator", func() {
			var r Result
			Expect(json.Unmarshal([]byte(`{"price":"12,3","vat":"24.00"}`), &r)).To(Succeed())
			Expect(r.Price.String()).To(Equal("12.30"))
			Expect(r.VAT.String()).To(Equal("24.00"))
		})

		It("should decode plain numbers", func() {
			var a Amount
			Expect(json.Unmarshal([]byte(`3.5`), &a)).To(Succeed())
			Expect(a.String()).To(Equal("3.50"))
		})

		It("should reject other values", func() {
			var a Amount
			Expect(json.Unmarshal([]byte(`true`), &a)).NotTo(Succeed())
			Expect(json.Unmarshal([]byte(`"abc"`), &a)).NotTo(Succeed())
		})
	})
})

var _ = Describe("ParseTieBreak", func() {
	It("should default to lexical", func() {
		Expect(ParseTieBreak("")).To(Equal(TieBreakLexical))
	})

	It("should read numeric", func() {
		tb, err := ParseTieBreak("numeric")
		Expect(err).NotTo(HaveOccurred())
		Expect(tb).To(Equal(TieBreakNumeric))
		Expect(tb.String()).To(Equal("numeric"))
	})

	It("should reject unknown policies", func() {
		_, err := ParseTieBreak("alphabetical")
		Expect(err).To(MatchError(ContainSubstring("unknown tie-break")))
	})
})

func ptrAmount(a Amount) *Amount { return &a }
