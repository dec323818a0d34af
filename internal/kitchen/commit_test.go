package kitchen

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/fridgecheck/internal/pipeline"
	"github.com/zombor/fridgecheck/internal/scanning"
)

var _ = Describe("PipelineStore", func() {
	var (
		db      *mockDB
		storage *mockStorage
		store   *PipelineStore
		now     time.Time
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		now = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
		store = NewPipelineStore(NewServiceWithDeps(db, storage, &mockIDGenerator{prefix: "rec"}, &mockTimeSource{now: now}))
	})

	candidate := pipeline.RecipeCandidate{
		ID:                    "cand-1",
		Title:                 "Pancakes",
		Ingredients:           []string{"Milk", "Flour"},
		Steps:                 []string{"Mix", "Fry"},
		PrepTimeMinutes:       10,
		CookTimeMinutes:       15,
		NutritionInfo:         "350 kcal",
		CuisineType:           "American",
		Difficulty:            scanning.DifficultyEasy,
		SourceIngredientNames: []string{"Milk"},
	}

	Describe("AddPantryItem", func() {
		It("should insert a pantry item without expiry", func() {
			Expect(store.AddPantryItem(pipeline.DetectedIngredient{
				ID: "ing-1", Name: "Milk", Category: scanning.CategoryDairy, EstimatedQuantity: "1 carton",
			})).To(Succeed())

			Expect(db.pantry).To(HaveLen(1))
			item := db.pantry["rec-1"]
			Expect(item.Name).To(Equal("Milk"))
			Expect(item.Category).To(Equal("Dairy"))
			Expect(item.Quantity).To(Equal("1 carton"))
			Expect(item.DateAdded).To(Equal(now))
			Expect(item.ExpiryDate).To(BeNil())
		})
	})

	Describe("SaveRecipe", func() {
		It("should insert a non-favorite recipe with a fresh ID", func() {
			id, err := store.SaveRecipe(candidate)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("rec-1"))

			recipe := db.recipes[id]
			Expect(recipe.Title).To(Equal("Pancakes"))
			Expect(recipe.TotalTime()).To(Equal(25))
			Expect(recipe.Difficulty).To(Equal("Easy"))
			Expect(recipe.IsFavorite).To(BeFalse())
			Expect(recipe.DateCreated).To(Equal(now))
			Expect(recipe.SourceIngredients).To(Equal([]string{"Milk"}))
		})

		It("should surface database errors", func() {
			db.saveErr = errors.New("disk full")
			_, err := store.SaveRecipe(candidate)
			Expect(err).To(MatchError(ContainSubstring("disk full")))
		})
	})

	Describe("SaveScanRecord", func() {
		It("should store images and the history record", func() {
			id, err := store.SaveScanRecord(pipeline.ScanResult{
				Images:          [][]byte{[]byte("jpeg")},
				IngredientNames: []string{"Milk", "Eggs"},
				Recipes:         []pipeline.RecipeCandidate{candidate},
			})
			Expect(err).NotTo(HaveOccurred())

			record := db.scans[id]
			Expect(record.DetectedIngredients).To(Equal([]string{"Milk", "Eggs"}))
			Expect(record.ImageFiles).To(HaveLen(1))
			Expect(record.Recipes).To(HaveLen(1))
			Expect(record.Recipes[0].ID).To(Equal("cand-1"))
			Expect(storage.files).To(HaveLen(1))
		})
	})
})
