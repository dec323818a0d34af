package kitchen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/fridgecheck/internal/pipeline"
	"github.com/zombor/fridgecheck/internal/scanning"
)

// mockScanner is a mock implementation of scanning.Scanner
type mockScanner struct {
	mu          sync.Mutex
	ingredients []scanning.IngredientData
	recipes     []scanning.RecipeData
	apiKeys     []string
	requests    []scanning.RecipeRequest
}

func (m *mockScanner) ScanIngredients(ctx context.Context, apiKey string, images []scanning.Image) ([]scanning.IngredientData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKeys = append(m.apiKeys, apiKey)
	return m.ingredients, nil
}

func (m *mockScanner) SuggestRecipes(ctx context.Context, apiKey string, req scanning.RecipeRequest) ([]scanning.RecipeData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKeys = append(m.apiKeys, apiKey)
	m.requests = append(m.requests, req)
	return m.recipes, nil
}

// mockPinger is a mock implementation of Pinger
type mockPinger struct {
	err  error
	keys []string
}

func (m *mockPinger) Ping(ctx context.Context, apiKey string) error {
	m.keys = append(m.keys, apiKey)
	return m.err
}

func testJPEG() []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func multipartBody(files map[string][]byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, data := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		part, err := writer.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		scanner     *mockScanner
		pinger      *mockPinger
		service     *Service
		scan        *pipeline.Pipeline
		cfg         ServerConfig
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, scan, cfg, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.Handler().ServeHTTP)
		}
	}

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		GinkgoHelper()
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decode := func(resp *http.Response, v any) {
		GinkgoHelper()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	upload := func() *http.Response {
		GinkgoHelper()
		body, contentType := multipartBody(map[string][]byte{"fridge.jpg": testJPEG()})
		return do("POST", "/api/scan/images", body, contentType)
	}

	BeforeEach(func() {
		db = newMockDB()
		scanner = &mockScanner{
			ingredients: []scanning.IngredientData{
				{Name: "Milk", Category: scanning.CategoryDairy, EstimatedQuantity: "1 carton"},
				{Name: "Eggs", Category: scanning.CategoryDairy, EstimatedQuantity: "6"},
			},
			recipes: []scanning.RecipeData{
				{Title: "Omelette", Ingredients: []string{"Eggs", "Milk"}, Steps: []string{"Whisk"}, Difficulty: scanning.DifficultyEasy},
			},
		}
		pinger = &mockPinger{}
		service = NewServiceWithDeps(db, newMockStorage(), &mockIDGenerator{prefix: "rec"}, &mockTimeSource{})
		scan = pipeline.New(scanner, NewPipelineStore(service))
		cfg = ServerConfig{APIKey: "configured-key", Pinger: pinger}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("GET /api/scan", func() {
		It("should return the idle state", func() {
			resp := do("GET", "/api/scan", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var snap map[string]any
			decode(resp, &snap)
			Expect(snap).To(HaveKeyWithValue("phase", "idle"))
			Expect(snap).To(HaveKeyWithValue("image_count", BeNumerically("==", 0)))
		})
	})

	Describe("POST /api/scan/images", func() {
		It("should capture the uploaded photo", func() {
			resp := upload()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(scan.Snapshot().ImageCount).To(Equal(1))
		})

		It("should reject undecodable files", func() {
			body, contentType := multipartBody(map[string][]byte{"notes.txt": []byte("hello")})
			resp := do("POST", "/api/scan/images", body, contentType)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should require a file field", func() {
			body, contentType := multipartBody(nil)
			resp := do("POST", "/api/scan/images", body, contentType)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var payload map[string]string
			decode(resp, &payload)
			Expect(payload["error"]).To(ContainSubstring("No file"))
		})
	})

	Describe("POST /api/scan/analyze", func() {
		When("no API key is available", func() {
			BeforeEach(func() {
				cfg.APIKey = ""
				setupServer()
			})

			It("should return bad request and record the failure", func() {
				upload()
				resp := do("POST", "/api/scan/analyze", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(scan.Snapshot().Phase).To(Equal(pipeline.PhaseAnalysisFailed))
			})
		})

		It("should wait for the result when asked", func() {
			upload()
			resp := do("POST", "/api/scan/analyze?wait=true", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var snap pipeline.Snapshot
			decode(resp, &snap)
			Expect(snap.Ingredients).To(HaveLen(2))
			Expect(scanner.apiKeys).To(Equal([]string{"configured-key"}))
		})

		It("should prefer the stored key", func() {
			db.preferences = &Preferences{ServingSize: 2, APIKey: "stored-key"}
			upload()
			do("POST", "/api/scan/analyze?wait=true", nil, "")
			Expect(scanner.apiKeys).To(Equal([]string{"stored-key"}))
		})

		It("should accept without waiting", func() {
			upload()
			resp := do("POST", "/api/scan/analyze", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			Eventually(func() pipeline.Phase { return scan.Snapshot().Phase }).Should(Equal(pipeline.PhaseAnalyzed))
		})
	})

	Describe("the scan flow", func() {
		BeforeEach(func() {
			db.pantry["salt"] = &PantryItem{ID: "salt", Name: "Salt"}
			upload()
			do("POST", "/api/scan/analyze?wait=true", nil, "")
		})

		It("should toggle ingredients", func() {
			id := scan.Snapshot().Ingredients[0].ID
			resp := do("POST", "/api/scan/ingredients/"+id+"/toggle", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(scan.Snapshot().SelectedCount()).To(Equal(1))

			resp = do("POST", "/api/scan/ingredients/missing/toggle", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should generate recipes with the pantry as staples", func() {
			resp := do("POST", "/api/scan/generate?wait=true", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var snap pipeline.Snapshot
			decode(resp, &snap)
			Expect(snap.Phase).To(Equal(pipeline.PhaseGenerated))
			Expect(scanner.requests[0].PantryStaples).To(Equal([]string{"Salt"}))
			Expect(scanner.requests[0].ServingSize).To(Equal(DefaultServingSize))
		})

		It("should commit selected ingredients to the pantry", func() {
			resp := do("POST", "/api/scan/pantry", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var payload map[string]int
			decode(resp, &payload)
			Expect(payload["added"]).To(Equal(2))
			Expect(db.pantry).To(HaveLen(3))
		})

		It("should save recipes and the history record after generation", func() {
			do("POST", "/api/scan/generate?wait=true", nil, "")
			candidate := scan.Snapshot().Recipes[0]

			resp := do("POST", "/api/scan/recipes/"+candidate.ID+"/save", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(db.recipes).To(HaveLen(1))

			resp = do("POST", "/api/scan/history", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(db.scans).To(HaveLen(1))
		})

		It("should reject saving before generation", func() {
			resp := do("POST", "/api/scan/history", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should reject unknown candidates", func() {
			do("POST", "/api/scan/generate?wait=true", nil, "")
			resp := do("POST", "/api/scan/recipes/missing/save", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should reject capturing after analysis", func() {
			resp := upload()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should reset", func() {
			resp := do("DELETE", "/api/scan", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(scan.Snapshot().Phase).To(Equal(pipeline.PhaseIdle))
			Expect(scan.Snapshot().Ingredients).To(BeEmpty())
		})
	})

	Describe("records", func() {
		BeforeEach(func() {
			db.recipes["r1"] = &Recipe{ID: "r1", Title: "Soup"}
			db.recipes["r2"] = &Recipe{ID: "r2", Title: "Stew", IsFavorite: true}
			db.pantry["p1"] = &PantryItem{ID: "p1", Name: "Rice"}
		})

		It("should list recipes with the favorites filter", func() {
			var recipes []*Recipe
			decode(do("GET", "/api/recipes?favorites=true", nil, ""), &recipes)
			Expect(recipes).To(HaveLen(1))
			Expect(recipes[0].Title).To(Equal("Stew"))
		})

		It("should toggle a favorite", func() {
			var recipe Recipe
			decode(do("POST", "/api/recipes/r1/favorite", nil, ""), &recipe)
			Expect(recipe.IsFavorite).To(BeTrue())
		})

		It("should return not found for missing records", func() {
			Expect(do("DELETE", "/api/recipes/missing", nil, "").StatusCode).To(Equal(http.StatusNotFound))
			Expect(do("DELETE", "/api/pantry/missing", nil, "").StatusCode).To(Equal(http.StatusNotFound))
			Expect(do("GET", "/api/scans/missing/images/0", nil, "").StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should delete pantry items", func() {
			Expect(do("DELETE", "/api/pantry/p1", nil, "").StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.pantry).To(BeEmpty())
		})

		It("should reject a non-numeric image index", func() {
			Expect(do("GET", "/api/scans/s1/images/first", nil, "").StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should list scans as an empty array", func() {
			resp := do("GET", "/api/scans", nil, "")
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})
	})

	Describe("preferences", func() {
		It("should hide the stored key", func() {
			db.preferences = &Preferences{ServingSize: 3, APIKey: "secret"}
			resp := do("GET", "/api/preferences", nil, "")
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).NotTo(ContainSubstring("secret"))
			Expect(string(body)).To(ContainSubstring(`"has_api_key":true`))
		})

		It("should keep the stored key when none is sent", func() {
			db.preferences = &Preferences{ServingSize: 3, APIKey: "secret"}
			resp := do("PUT", "/api/preferences", strings.NewReader(`{"serving_size":4,"allergies":["Peanuts"]}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.preferences.APIKey).To(Equal("secret"))
			Expect(db.preferences.ServingSize).To(Equal(4))
		})

		It("should replace the key when sent", func() {
			resp := do("PUT", "/api/preferences", strings.NewReader(`{"serving_size":2,"api_key":" new-key "}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.preferences.APIKey).To(Equal("new-key"))
		})

		It("should reject invalid preferences", func() {
			resp := do("PUT", "/api/preferences", strings.NewReader(`{"serving_size":0}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(db.preferences).To(BeNil())
		})

		It("should reject malformed JSON", func() {
			resp := do("PUT", "/api/preferences", strings.NewReader(`{`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		Describe("POST /api/preferences/test", func() {
			It("should test the key from the body", func() {
				var payload map[string]any
				decode(do("POST", "/api/preferences/test", strings.NewReader(`{"api_key":"candidate"}`), "application/json"), &payload)
				Expect(payload).To(HaveKeyWithValue("valid", true))
				Expect(pinger.keys).To(Equal([]string{"candidate"}))
			})

			It("should fall back to the configured key", func() {
				do("POST", "/api/preferences/test", nil, "")
				Expect(pinger.keys).To(Equal([]string{"configured-key"}))
			})

			It("should report a rejected key", func() {
				pinger.err = &scanning.HTTPError{StatusCode: 401, Body: "invalid x-api-key"}
				var payload map[string]any
				decode(do("POST", "/api/preferences/test", nil, ""), &payload)
				Expect(payload).To(HaveKeyWithValue("valid", false))
				Expect(payload["error"]).To(ContainSubstring("401"))
			})

			When("no key is available", func() {
				BeforeEach(func() {
					cfg.APIKey = ""
					setupServer()
				})

				It("should return bad request", func() {
					resp := do("POST", "/api/preferences/test", nil, "")
					Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
					Expect(pinger.keys).To(BeEmpty())
				})
			})
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			cfg.BasicAuth = BasicAuth{Username: "chef", Password: "pass"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp := do("GET", "/api/scan", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("FridgeCheck"))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/scan", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("chef", "pass")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should answer preflight requests without credentials", func() {
			resp := do("OPTIONS", "/api/scan", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("GET /metrics", func() {
		BeforeEach(func() {
			cfg.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "fridgecheck_model_requests_total 1\n")
			})
			setupServer()
		})

		It("should serve the metrics handler", func() {
			resp := do("GET", "/metrics", nil, "")
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("fridgecheck_model_requests_total"))
		})
	})
})

var _ = Describe("statusFor", func() {
	DescribeTable("mapping errors to status codes",
		func(err error, status int) {
			Expect(statusFor(err)).To(Equal(status))
		},
		Entry("busy", pipeline.ErrBusy, http.StatusConflict),
		Entry("invalid transition", pipeline.ErrInvalidTransition, http.StatusConflict),
		Entry("unknown candidate", pipeline.ErrUnknownCandidate, http.StatusNotFound),
		Entry("missing record", ErrNotFound, http.StatusNotFound),
		Entry("invalid image", scanning.ErrInvalidImage, http.StatusBadRequest),
		Entry("no api key", scanning.ErrNoAPIKey, http.StatusBadRequest),
		Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
	)
})
