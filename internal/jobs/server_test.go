package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-importer/internal/extraction"
)

var _ = Describe("Server", func() {
	var (
		store       *Store
		extractor   *mockExtractor
		storage     *mockStorage
		inv         *mockInventory
		service     *Service
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	anyPath := regexp.MustCompile(".*")

	BeforeEach(func() {
		store = NewStore(WithIDGenerator(&mockIDGenerator{}), WithTimeSource(newMockTimeSource()))
		extractor = &mockExtractor{doc: &extraction.Document{
			Text:  "905.691.39 KALLAX Shelf unit 2 49,99 20% 59,99",
			Pages: 3,
		}}
		storage = newMockStorage()
		inv = newMockInventory()
		auth = BasicAuth{}

		registry, err := extraction.NewRegistry("ikea", extraction.IKEA, extraction.Generic)
		Expect(err).NotTo(HaveOccurred())
		service = NewService(store, NewPipeline(extractor, registry), &mockQueue{}, storage, inv)
	})

	JustBeforeEach(func() {
		server := NewServerWithMux(service, auth, "1.2.3", http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, anyPath, server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	upload := func(fields map[string]string, filename string, data []byte) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		for k, v := range fields {
			Expect(writer.WriteField(k, v)).To(Succeed())
		}
		if filename != "" {
			part, err := writer.CreateFormFile("pdf", filename)
			Expect(err).NotTo(HaveOccurred())
			part.Write(data)
		}
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/pdf-extract", writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		var out map[string]any
		Expect(json.Unmarshal(body, &out)).To(Succeed())
		return out
	}

	get := func(path string) *http.Response {
		resp, err := http.Get(ghttpServer.URL() + path)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	post := func(path string) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+path, "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	completeAll := func() {
		worker := NewWorker(store, service.pipeline, &mockNotifier{})
		for {
			job, ok := store.ClaimPending()
			if !ok {
				return
			}
			Expect(worker.Process(context.Background(), job)).To(Succeed())
		}
	}

	Describe("GET /health", func() {
		It("should report healthy with the version", func() {
			resp := get("/health")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)).To(Equal(map[string]any{"status": "healthy", "version": "1.2.3"}))
		})
	})

	Describe("OPTIONS preflight", func() {
		It("should return No Content with CORS headers", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/pdf-extract", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("POST /api/pdf-extract", func() {
		When("async is requested", func() {
			It("should accept the job and return its id", func() {
				resp := upload(map[string]string{"async": "true", "userId": "user-1"}, "invoice.pdf", []byte("%PDF"))
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				Expect(decode(resp)).To(Equal(map[string]any{"success": true, "jobId": "job-1"}))

				job, ok := store.GetJob("job-1")
				Expect(ok).To(BeTrue())
				Expect(job.OwnerID).To(Equal("user-1"))
				Expect(job.SourceName).To(Equal("invoice.pdf"))
				Expect(extractor.calls).To(Equal(0))
			})

			It("should default the owner to anonymous", func() {
				resp := upload(map[string]string{"async": "true"}, "invoice.pdf", []byte("%PDF"))
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				resp.Body.Close()
				Expect(store.GetUserJobs("anonymous")).To(HaveLen(1))
			})

			It("should reject unknown parsers", func() {
				resp := upload(map[string]string{"async": "true", "parser": "nope"}, "invoice.pdf", []byte("%PDF"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)).To(HaveKeyWithValue("success", false))
				Expect(store.Count()).To(Equal(0))
			})
		})

		When("async is not requested", func() {
			It("should return the records inline", func() {
				resp := upload(nil, "invoice.pdf", []byte("%PDF"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body).To(HaveKeyWithValue("success", true))
				Expect(body["products"]).To(HaveLen(1))
				Expect(body["metadata"]).To(HaveKeyWithValue("pages", BeNumerically("==", 3)))
				Expect(body["metadata"]).To(HaveKeyWithValue("productsFound", BeNumerically("==", 1)))
				Expect(body["metadata"]).To(HaveKeyWithValue("parser", "ikea"))
				Expect(store.Count()).To(Equal(0))
			})

			It("should return Unprocessable Entity for unreadable documents", func() {
				extractor.err = extraction.ErrDocumentUnreadable
				resp := upload(nil, "invoice.pdf", []byte("garbage"))
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(decode(resp)).To(HaveKeyWithValue("success", false))
			})
		})

		When("no file is provided", func() {
			It("should return Bad Request", func() {
				resp := upload(map[string]string{"async": "true"}, "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)).To(HaveKeyWithValue("error", "No PDF file provided"))
			})
		})

		When("the file is not a PDF", func() {
			It("should return Bad Request", func() {
				resp := upload(nil, "notes.txt", []byte("hello"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)).To(HaveKeyWithValue("error", "File must be a PDF"))
			})
		})

		When("the file is empty", func() {
			It("should return Bad Request", func() {
				resp := upload(map[string]string{"async": "true"}, "invoice.pdf", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
				Expect(store.Count()).To(Equal(0))
			})
		})
	})

	Describe("GET /api/pdf-extract/status", func() {
		When("neither jobId nor userId is given", func() {
			It("should return Bad Request", func() {
				resp := get("/api/pdf-extract/status")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)).To(Equal(map[string]any{"error": "Missing jobId or userId"}))
			})
		})

		When("the job does not exist", func() {
			It("should return Not Found", func() {
				resp := get("/api/pdf-extract/status?jobId=missing")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(decode(resp)).To(Equal(map[string]any{"error": "Job not found"}))
			})
		})

		When("the job is pending", func() {
			It("should return it without result or error", func() {
				upload(map[string]string{"async": "true", "userId": "user-1"}, "invoice.pdf", []byte("%PDF")).Body.Close()

				resp := get("/api/pdf-extract/status?jobId=job-1")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body).To(HaveKeyWithValue("id", "job-1"))
				Expect(body).To(HaveKeyWithValue("userId", "user-1"))
				Expect(body).To(HaveKeyWithValue("fileName", "invoice.pdf"))
				Expect(body).To(HaveKeyWithValue("status", "pending"))
				Expect(body).To(HaveKey("createdAt"))
				Expect(body).To(HaveKey("updatedAt"))
				Expect(body).NotTo(HaveKey("result"))
				Expect(body).NotTo(HaveKey("error"))
			})
		})

		When("the job is completed", func() {
			It("should include the records", func() {
				upload(map[string]string{"async": "true", "userId": "user-1"}, "invoice.pdf", []byte("%PDF")).Body.Close()
				completeAll()

				body := decode(get("/api/pdf-extract/status?jobId=job-1"))
				Expect(body).To(HaveKeyWithValue("status", "completed"))
				Expect(body).NotTo(HaveKey("error"))
				result := body["result"].(map[string]any)
				Expect(result).To(HaveKeyWithValue("pagesCount", BeNumerically("==", 3)))
				products := result["products"].([]any)
				Expect(products).To(HaveLen(1))
				Expect(products[0]).To(HaveKeyWithValue("reference", "905.691.39"))
				Expect(products[0]).To(HaveKeyWithValue("priceTTC", 59.99))
			})
		})

		When("userId is given", func() {
			It("should list the owner's jobs", func() {
				upload(map[string]string{"async": "true", "userId": "user-1"}, "a.pdf", []byte("%PDF")).Body.Close()
				upload(map[string]string{"async": "true", "userId": "user-2"}, "b.pdf", []byte("%PDF")).Body.Close()
				upload(map[string]string{"async": "true", "userId": "user-1"}, "c.pdf", []byte("%PDF")).Body.Close()

				resp := get("/api/pdf-extract/status?userId=user-1")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				jobs := decode(resp)["jobs"].([]any)
				Expect(jobs).To(HaveLen(2))
				Expect(jobs[0]).To(HaveKeyWithValue("fileName", "a.pdf"))
				Expect(jobs[1]).To(HaveKeyWithValue("fileName", "c.pdf"))
			})

			It("should return an empty list for unknown owners", func() {
				body := decode(get("/api/pdf-extract/status?userId=nobody"))
				Expect(body).To(HaveKeyWithValue("jobs", BeEmpty()))
			})
		})

		When("both jobId and userId are given", func() {
			It("should look up the job", func() {
				upload(map[string]string{"async": "true", "userId": "user-1"}, "a.pdf", []byte("%PDF")).Body.Close()

				body := decode(get("/api/pdf-extract/status?jobId=job-1&userId=user-1"))
				Expect(body).To(HaveKeyWithValue("id", "job-1"))
				Expect(body).NotTo(HaveKey("jobs"))
			})
		})
	})

	Describe("GET /api/pdf-extract/document", func() {
		It("should return the archived PDF", func() {
			upload(map[string]string{"async": "true"}, "invoice.pdf", []byte("%PDF-1.4")).Body.Close()

			resp := get("/api/pdf-extract/document?jobId=job-1")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("%PDF-1.4"))
		})

		It("should return Not Found for unknown jobs", func() {
			resp := get("/api/pdf-extract/document?jobId=missing")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("POST /api/pdf-extract/import", func() {
		BeforeEach(func() {
			_, err := service.Submit("user-1", "invoice.pdf", []byte("%PDF"), "")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return Conflict while the job is unfinished", func() {
			resp := post("/api/pdf-extract/import?jobId=job-1")
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})

		It("should import a completed job", func() {
			completeAll()
			resp := post("/api/pdf-extract/import?jobId=job-1")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			Expect(body).To(HaveKeyWithValue("success", true))
			Expect(body["products"]).To(HaveLen(1))

			products := decode(get("/api/inventory?userId=user-1"))["products"]
			Expect(products).To(HaveLen(1))
		})

		It("should return Bad Request without a jobId", func() {
			resp := post("/api/pdf-extract/import")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should return Not Found for unknown jobs", func() {
			resp := post("/api/pdf-extract/import?jobId=missing")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "alice", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp := get("/api/pdf-extract/status?userId=alice")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			resp.Body.Close()
		})

		It("should leave the health check open", func() {
			resp := get("/health")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("should use the user name as the default owner", func() {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			Expect(writer.WriteField("async", "true")).To(Succeed())
			part, err := writer.CreateFormFile("pdf", "invoice.pdf")
			Expect(err).NotTo(HaveOccurred())
			part.Write([]byte("%PDF"))
			Expect(writer.Close()).To(Succeed())

			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/pdf-extract", &b)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", writer.FormDataContentType())
			req.SetBasicAuth("alice", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			resp.Body.Close()

			Expect(store.GetUserJobs("alice")).To(HaveLen(1))
		})
	})
})
