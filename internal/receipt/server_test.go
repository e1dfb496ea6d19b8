package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-scanner/internal/scanning"
)

// uploadForm builds a multipart body with a single "file" field
func uploadForm(filename string, data []byte) (*bytes.Buffer, string) {
	var b bytes.Buffer
	writer := multipart.NewWriter(&b)
	part, err := writer.CreateFormFile("file", filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return &b, writer.FormDataContentType()
}

func readBody(resp *http.Response) string {
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return string(body)
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server

		req  *http.Request
		resp *http.Response
		body string
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	newRequest := func(method, path string, payload io.Reader, contentType string) *http.Request {
		r, err := http.NewRequest(method, ghttpServer.URL()+path, payload)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			r.Header.Set("Content-Type", contentType)
		}
		return r
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		service = NewServiceWithDeps(db, scanner, storage, &mockIDGenerator{id: "1700000000"}, &mockTimeSource{now: time.Date(2024, 3, 12, 18, 0, 0, 0, time.Local)})
		auth = BasicAuth{}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		setupServer()
	})

	JustBeforeEach(func() {
		var err error
		resp, err = http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		body = readBody(resp)
		resp.Body.Close()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleHealth", func() {
		BeforeEach(func() {
			req = newRequest(http.MethodGet, "/healthz", nil, "")
		})

		It("should return ok", func() {
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(Equal("ok\n"))
		})

		When("auth is configured", func() {
			BeforeEach(func() {
				server = NewServerWithMux(service, BasicAuth{Username: "user", Password: "pass"}, http.NewServeMux())
				setupServer()
				req = newRequest(http.MethodGet, "/healthz", nil, "")
			})

			It("should not require credentials", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})
	})

	Describe("handleScanReceipt", func() {
		BeforeEach(func() {
			payload, contentType := uploadForm("kuitti.jpg", []byte("fake image data"))
			req = newRequest(http.MethodPost, "/api/scans", payload, contentType)
		})

		When("scanning succeeds", func() {
			It("should return status OK", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			})

			It("should return the extracted fields", func() {
				var scan map[string]any
				Expect(json.Unmarshal([]byte(body), &scan)).To(Succeed())
				Expect(scan).To(HaveKeyWithValue("date_time", "12.3.2024 14:05"))
				Expect(scan).To(HaveKeyWithValue("price", "15.50"))
				Expect(scan).To(HaveKeyWithValue("vat", "24.00"))
				Expect(scan).To(HaveKeyWithValue("filename", "1700000000_kuitti.jpg"))
				Expect(scan).To(HaveKey("text"))
			})

			It("should pass a content type guessed from the extension", func() {
				Expect(scanner.contentType).To(Equal("image/jpeg"))
			})

			It("should not save a receipt", func() {
				Expect(db.receipts).To(BeEmpty())
			})
		})

		When("the receipt cannot be read", func() {
			BeforeEach(func() {
				scanner.scanErr = scanning.ErrRecognition
			})

			It("should return status Unprocessable Entity", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(body).To(ContainSubstring(`"error"`))
			})
		})

		When("the file is not an image", func() {
			BeforeEach(func() {
				scanner.scanErr = scanning.ErrUnsupportedFormat
			})

			It("should return status Unsupported Media Type", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
			})
		})

		When("scanning fails unexpectedly", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("boom")
			})

			It("should return status Internal Server Error", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})

		When("no file is provided", func() {
			BeforeEach(func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				Expect(writer.WriteField("other", "value")).To(Succeed())
				Expect(writer.Close()).To(Succeed())
				req = newRequest(http.MethodPost, "/api/scans", &b, writer.FormDataContentType())
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(body).To(ContainSubstring("No file was selected"))
			})
		})

		When("the form is invalid", func() {
			BeforeEach(func() {
				req = newRequest(http.MethodPost, "/api/scans", strings.NewReader("invalid"), "multipart/form-data")
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleCreateReceipt", func() {
		When("a file is uploaded", func() {
			BeforeEach(func() {
				payload, contentType := uploadForm("kuitti.png", []byte("fake image data"))
				req = newRequest(http.MethodPost, "/api/receipts", payload, contentType)
			})

			It("should return status Created", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})

			It("should save the scanned receipt", func() {
				var receipt Receipt
				Expect(json.Unmarshal([]byte(body), &receipt)).To(Succeed())
				Expect(receipt.ID).To(Equal(uint64(1)))
				Expect(receipt.Price).To(Equal(15.5))
				Expect(receipt.VAT).To(Equal(24.0))
				Expect(receipt.ContentType).To(Equal("image/png"))
				Expect(db.receipts).To(HaveLen(1))
			})
		})

		When("an uploaded receipt has no price", func() {
			BeforeEach(func() {
				scanner.receiptData.Price = nil
				payload, contentType := uploadForm("kuitti.png", []byte("fake image data"))
				req = newRequest(http.MethodPost, "/api/receipts", payload, contentType)
			})

			It("should return status Unprocessable Entity", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(body).To(ContainSubstring("price is required"))
			})

			It("should not keep the upload", func() {
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("reviewed fields are submitted", func() {
			BeforeEach(func() {
				payload := `{"date_time":"12.3.2024 14:05","price":"15,50","vat":"24"}`
				req = newRequest(http.MethodPost, "/api/receipts", strings.NewReader(payload), "application/json")
			})

			It("should return status Created", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})

			It("should return the saved receipt", func() {
				var receipt Receipt
				Expect(json.Unmarshal([]byte(body), &receipt)).To(Succeed())
				Expect(receipt.ID).To(Equal(uint64(1)))
				Expect(receipt.Price).To(Equal(15.5))
				Expect(receipt.ReceiptTime).NotTo(BeNil())
			})
		})

		When("the body is not JSON", func() {
			BeforeEach(func() {
				req = newRequest(http.MethodPost, "/api/receipts", strings.NewReader("{"), "application/json")
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(body).To(ContainSubstring("Invalid request body"))
			})
		})

		When("the VAT is missing", func() {
			BeforeEach(func() {
				req = newRequest(http.MethodPost, "/api/receipts", strings.NewReader(`{"price":"1.00"}`), "application/json")
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(body).To(ContainSubstring("vat is required"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("disk full")
				req = newRequest(http.MethodPost, "/api/receipts", strings.NewReader(`{"price":"1.00","vat":"24"}`), "application/json")
			})

			It("should return status Internal Server Error", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleListReceipts", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(&Receipt{Price: 1})).To(Succeed())
			Expect(db.SaveReceipt(&Receipt{Price: 2})).To(Succeed())
			req = newRequest(http.MethodGet, "/api/receipts", nil, "")
		})

		It("should return the first page", func() {
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var page Page
			Expect(json.Unmarshal([]byte(body), &page)).To(Succeed())
			Expect(page.Number).To(Equal(0))
			Expect(page.PageSize).To(Equal(PageSize))
			Expect(page.Total).To(Equal(2))
			Expect(page.Receipts).To(HaveLen(2))
		})

		When("a later page is requested", func() {
			BeforeEach(func() {
				req = newRequest(http.MethodGet, "/api/receipts?page=1", nil, "")
			})

			It("should return no receipts", func() {
				var page Page
				Expect(json.Unmarshal([]byte(body), &page)).To(Succeed())
				Expect(page.Number).To(Equal(1))
				Expect(page.Receipts).To(BeEmpty())
			})
		})

		When("the page is invalid", func() {
			BeforeEach(func() {
				req = newRequest(http.MethodGet, "/api/receipts?page=-1", nil, "")
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("boom")
			})

			It("should return status Internal Server Error", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleCountReceipts", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(&Receipt{})).To(Succeed())
			req = newRequest(http.MethodGet, "/api/receipts/count", nil, "")
		})

		It("should return the count", func() {
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{"count":1}`))
		})
	})

	Describe("handleGetReceipt", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(&Receipt{Price: 9.5, VAT: 14})).To(Succeed())
		})

		When("the receipt exists", func() {
			BeforeEach(func() {
				req = newRequest(http.MethodGet, "/api/receipts/1", nil, "")
			})

			It("should return the receipt", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var receipt Receipt
				Expect(json.Unmarshal([]byte(body), &receipt)).To(Succeed())
				Expect(receipt.Price).To(Equal(9.5))
			})
		})

		When("the receipt does not exist", func() {
			BeforeEach(func() {
				req = newRequest(http.MethodGet, "/api/receipts/2", nil, "")
			})

			It("should return status Not Found", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the ID is not a number", func() {
			BeforeEach(func() {
				req = newRequest(http.MethodGet, "/api/receipts/abc", nil, "")
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleGetReceiptFile", func() {
		BeforeEach(func() {
			storage.files["1700000000_kuitti.png"] = []byte("png data")
			Expect(db.SaveReceipt(&Receipt{Filename: "1700000000_kuitti.png", ContentType: "image/png"})).To(Succeed())
			Expect(db.SaveReceipt(&Receipt{})).To(Succeed())
			storage.files["1600000000_kuitti.png"] = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
			Expect(db.SaveReceipt(&Receipt{Filename: "1600000000_kuitti.png"})).To(Succeed())
			storage.files["1600000001_kuitti.txt"] = []byte("SUMMA 15,50")
			Expect(db.SaveReceipt(&Receipt{Filename: "1600000001_kuitti.txt"})).To(Succeed())
		})

		When("the receipt has a file", func() {
			BeforeEach(func() {
				req = newRequest(http.MethodGet, "/api/receipts/1/file", nil, "")
			})

			It("should return the file", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
				Expect(body).To(Equal("png data"))
			})
		})

		When("the receipt has no recorded content type", func() {
			BeforeEach(func() {
				req = newRequest(http.MethodGet, "/api/receipts/3/file", nil, "")
			})

			It("should detect it from the file", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			})

			When("the file is not an image", func() {
				BeforeEach(func() {
					req = newRequest(http.MethodGet, "/api/receipts/4/file", nil, "")
				})

				It("should fall back to the sniffed text type", func() {
					Expect(resp.StatusCode).To(Equal(http.StatusOK))
					Expect(resp.Header.Get("Content-Type")).To(Equal("text/plain; charset=utf-8"))
					Expect(body).To(Equal("SUMMA 15,50"))
				})
			})
		})

		When("the receipt has no file", func() {
			BeforeEach(func() {
				req = newRequest(http.MethodGet, "/api/receipts/2/file", nil, "")
			})

			It("should return status Not Found", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("corsMiddleware", func() {
		BeforeEach(func() {
			req = newRequest(http.MethodOptions, "/api/receipts", nil, "")
		})

		It("should answer preflight requests", func() {
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})

	Describe("requireAuth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			server = NewServerWithMux(service, auth, http.NewServeMux())
			setupServer()
			req = newRequest(http.MethodGet, "/api/receipts", nil, "")
		})

		When("request is unauthorized", func() {
			It("should return status Unauthorized", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).NotTo(BeEmpty())
			})
		})

		When("credentials are valid", func() {
			BeforeEach(func() {
				req.SetBasicAuth("user", "pass")
			})

			It("should return status OK", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})
	})
})

var _ = Describe("authenticate", func() {
	var (
		server *Server
		req    *http.Request
	)

	BeforeEach(func() {
		server = NewServerWithMux(nil, BasicAuth{Username: "user", Password: "pass"}, http.NewServeMux())
		var err error
		req, err = http.NewRequest(http.MethodGet, "/api/receipts", nil)
		Expect(err).NotTo(HaveOccurred())
	})

	When("no auth is configured", func() {
		It("should return true", func() {
			open := NewServerWithMux(nil, BasicAuth{}, http.NewServeMux())
			Expect(open.authenticate(req)).To(BeTrue())
		})
	})

	When("valid credentials are provided", func() {
		It("should return true", func() {
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")))
			Expect(server.authenticate(req)).To(BeTrue())
		})
	})

	When("invalid credentials are provided", func() {
		It("should return false", func() {
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:wrong")))
			Expect(server.authenticate(req)).To(BeFalse())
		})
	})

	When("the header is not base64", func() {
		It("should return false", func() {
			req.Header.Set("Authorization", "Basic !!!")
			Expect(server.authenticate(req)).To(BeFalse())
		})
	})

	When("no authorization header is provided", func() {
		It("should return false", func() {
			Expect(server.authenticate(req)).To(BeFalse())
		})
	})
})

var _ = Describe("uploadContentType", func() {
	DescribeTable("choosing a content type",
		func(contentType, filename string, data []byte, expected string) {
			Expect(uploadContentType(contentType, filename, data)).To(Equal(expected))
		},
		Entry("keeps a sent type", "image/png", "a.jpg", nil, "image/png"),
		Entry("guesses jpeg", "application/octet-stream", "a.JPG", nil, "image/jpeg"),
		Entry("guesses heic", "", "IMG_0001.HEIC", nil, "image/heic"),
		Entry("guesses pdf", "", "scan.pdf", nil, "application/pdf"),
		Entry("sniffs a pdf without extension", "", "upload", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), "application/pdf"),
		Entry("sniffs a png without extension", "", "blob", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "image/png"),
		Entry("falls back to octet-stream", "", "notes.bin", []byte{0x00, 0x01, 0x02, 0x03}, "application/octet-stream"),
	)
})
