package jobs

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-importer/internal/extraction"
)

var _ = Describe("Service", func() {
	var (
		store     *Store
		extractor *mockExtractor
		storage   *mockStorage
		inv       *mockInventory
		queue     *mockQueue
		service   *Service
	)

	BeforeEach(func() {
		store = NewStore(WithIDGenerator(&mockIDGenerator{}), WithTimeSource(newMockTimeSource()))
		extractor = &mockExtractor{doc: &extraction.Document{
			Text:  "905.691.39 KALLAX Shelf unit 2 49,99 20% 59,99",
			Pages: 1,
		}}
		storage = newMockStorage()
		inv = newMockInventory()
		queue = &mockQueue{}

		registry, err := extraction.NewRegistry("ikea", extraction.IKEA, extraction.Generic)
		Expect(err).NotTo(HaveOccurred())
		service = NewService(store, NewPipeline(extractor, registry), queue, storage, inv)
	})

	Describe("Submit", func() {
		var (
			job Job
			err error
		)

		JustBeforeEach(func() {
			job, err = service.Submit("user-1", "invoice.pdf", []byte("%PDF"), "")
		})

		It("should return the pending job", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(job.ID).To(Equal("job-1"))
			Expect(job.Status).To(Equal(StatusPending))
			Expect(job.Parser).To(Equal("ikea"))
		})

		It("should archive the document and wake the workers", func() {
			Expect(storage.files).To(HaveKeyWithValue("job-1.pdf", []byte("%PDF")))
			Expect(queue.notified).To(Equal(1))
		})

		It("should not extract inline", func() {
			Expect(extractor.calls).To(Equal(0))
		})

		When("archiving fails", func() {
			BeforeEach(func() {
				storage.saveErr = errBoom
			})

			It("should still queue the job", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(queue.notified).To(Equal(1))
			})
		})

		When("the parser is unknown", func() {
			It("should return ErrUnknownParser and store nothing", func() {
				_, err := service.Submit("user-1", "invoice.pdf", nil, "nope")
				Expect(errors.Is(err, extraction.ErrUnknownParser)).To(BeTrue())
				Expect(store.GetUserJobs("user-1")).To(HaveLen(1))
			})
		})
	})

	Describe("ExtractNow", func() {
		It("should return records without creating a job", func() {
			result, parser, err := service.ExtractNow(context.Background(), "invoice.pdf", []byte("%PDF"), "generic")
			Expect(err).NotTo(HaveOccurred())
			Expect(parser).To(Equal("generic"))
			Expect(result.Products).To(HaveLen(1))
			Expect(result.Products[0].Reference).To(Equal("905.691.39"))
			Expect(store.Count()).To(Equal(0))
		})

		It("should return extraction errors", func() {
			extractor.err = extraction.ErrDocumentUnreadable
			_, _, err := service.ExtractNow(context.Background(), "invoice.pdf", nil, "")
			Expect(errors.Is(err, extraction.ErrDocumentUnreadable)).To(BeTrue())
		})
	})

	Describe("GetJob", func() {
		It("should return ErrUnknownJob for unknown ids", func() {
			_, err := service.GetJob("missing")
			Expect(errors.Is(err, ErrUnknownJob)).To(BeTrue())
		})
	})

	Describe("GetDocument", func() {
		It("should return the archived document", func() {
			job, err := service.Submit("user-1", "invoice.pdf", []byte("%PDF"), "")
			Expect(err).NotTo(HaveOccurred())

			data, err := service.GetDocument(job.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("%PDF")))
		})

		It("should return ErrUnknownJob for unknown jobs", func() {
			_, err := service.GetDocument("missing")
			Expect(errors.Is(err, ErrUnknownJob)).To(BeTrue())
		})
	})

	Describe("Import", func() {
		var id string

		BeforeEach(func() {
			job, err := service.Submit("user-1", "invoice.pdf", []byte("%PDF"), "")
			Expect(err).NotTo(HaveOccurred())
			id = job.ID
		})

		When("the job is completed", func() {
			BeforeEach(func() {
				claimed, ok := store.ClaimPending()
				Expect(ok).To(BeTrue())
				Expect(NewWorker(store, service.pipeline, &mockNotifier{}).Process(context.Background(), claimed)).To(Succeed())
			})

			It("should import the records for the job owner", func() {
				products, err := service.Import(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(products).To(HaveLen(1))
				Expect(products[0].LastJobID).To(Equal(id))
				Expect(inv.imports["user-1"]).To(Equal([]extraction.Record{kallax}))
			})

			It("should return inventory errors", func() {
				inv.importErr = errBoom
				_, err := service.Import(id)
				Expect(errors.Is(err, errBoom)).To(BeTrue())
			})
		})

		When("the job is still pending", func() {
			It("should return ErrJobNotCompleted", func() {
				_, err := service.Import(id)
				Expect(errors.Is(err, ErrJobNotCompleted)).To(BeTrue())
				Expect(inv.imports).To(BeEmpty())
			})
		})

		It("should return ErrUnknownJob for unknown jobs", func() {
			_, err := service.Import("missing")
			Expect(errors.Is(err, ErrUnknownJob)).To(BeTrue())
		})
	})

	Describe("ListProducts", func() {
		It("should wrap inventory errors", func() {
			inv.listErr = errBoom
			_, err := service.ListProducts("user-1")
			Expect(errors.Is(err, errBoom)).To(BeTrue())
		})
	})
})
