package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

const invoiceText = "IKEA France Facture 4512\n905.691.39 KALLAX Shelf unit 2 49,99 20% 59,99\nTotal TTC 119,98"

var _ = Describe("modelInput", func() {
	It("should collapse whitespace", func() {
		input, ok := modelInput(invoiceText)
		Expect(ok).To(BeTrue())
		Expect(input).NotTo(ContainSubstring("\n"))
		Expect(input).To(HavePrefix("IKEA France Facture 4512 905.691.39"))
	})

	It("should reject text too short to hold line items", func() {
		_, ok := modelInput("  Facture \n ")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("relevantExcerpt", func() {
	It("should keep short text unchanged", func() {
		Expect(relevantExcerpt("abcdef", 10)).To(Equal("abcdef"))
	})

	It("should keep the head and the tail of long text", func() {
		excerpt := relevantExcerpt("aaaaabbbbbccccc", 10)
		Expect(excerpt).To(HavePrefix("aaaaa"))
		Expect(excerpt).To(HaveSuffix("ccccc"))
		Expect(excerpt).To(ContainSubstring("TRUNCATED"))
		Expect(excerpt).NotTo(ContainSubstring("b"))
	})
})

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		parser  *Ollama
		input   string
		records []Record
		err     error
	)

	BeforeEach(func() {
		input = invoiceText
		server = ghttp.NewServer()
		parser, err = NewOllama(server.URL(), "llama3.1")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		records, err = parser.ParseItems(context.Background(), input)
	})

	When("the model returns line items", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					var req ollamaChatRequest
					Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
					Expect(req.Model).To(Equal("llama3.1"))
					Expect(req.Stream).To(BeFalse())
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Content).To(ContainSubstring("KALLAX Shelf unit"))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{
						Role:    "assistant",
						Content: `[{"name": "KALLAX Shelf unit", "quantity": 2, "totalTTC": 119.98, "reference": "905.691.39"}]`,
					},
					Done: true,
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the records", func() {
			Expect(records).To(HaveLen(1))
			Expect(records[0].Reference).To(Equal("905.691.39"))
			Expect(records[0].PriceTTC).To(Equal(59.99))
		})
	})

	When("the API returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("status 500"))
		})
	})

	When("the model answers with prose", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Role: "assistant", Content: "Sorry, I cannot help."},
				Done:    true,
			}))
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})
	})

	When("the text is too short", func() {
		BeforeEach(func() {
			input = strings.Repeat(" ", 10)
		})

		It("should not call the model", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})

var _ = Describe("NewOllama", func() {
	It("should require a model name", func() {
		_, err := NewOllama("", "")
		Expect(err).To(HaveOccurred())
	})
})
