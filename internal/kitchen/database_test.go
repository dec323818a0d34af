package kitchen

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("pantry items", func() {
		BeforeEach(func() {
			expiry := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
			Expect(db.SavePantryItem(&PantryItem{ID: "p2", Name: "Milk", Category: "Dairy", ExpiryDate: &expiry})).To(Succeed())
			Expect(db.SavePantryItem(&PantryItem{ID: "p1", Name: "Eggs", Category: "Dairy"})).To(Succeed())
		})

		It("should round-trip an item", func() {
			item, err := db.GetPantryItem("p2")
			Expect(err).NotTo(HaveOccurred())
			Expect(item.Name).To(Equal("Milk"))
			Expect(item.ExpiryDate).NotTo(BeNil())
		})

		It("should list items sorted by name", func() {
			items, err := db.ListPantryItems()
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(2))
			Expect(items[0].Name).To(Equal("Eggs"))
			Expect(items[1].Name).To(Equal("Milk"))
		})

		It("should delete an item", func() {
			Expect(db.DeletePantryItem("p1")).To(Succeed())
			_, err := db.GetPantryItem("p1")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("should report deleting a missing item as not found", func() {
			Expect(db.DeletePantryItem("missing")).To(MatchError(ErrNotFound))
		})
	})

	Describe("recipes", func() {
		BeforeEach(func() {
			older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			Expect(db.SaveRecipe(&Recipe{ID: "r1", Title: "Old", DateCreated: older})).To(Succeed())
			Expect(db.SaveRecipe(&Recipe{ID: "r2", Title: "New", DateCreated: older.AddDate(0, 1, 0), Steps: []string{"Cook"}})).To(Succeed())
		})

		It("should list newest first", func() {
			recipes, err := db.ListRecipes()
			Expect(err).NotTo(HaveOccurred())
			Expect(recipes[0].Title).To(Equal("New"))
			Expect(recipes[0].Steps).To(Equal([]string{"Cook"}))
		})

		It("should replace on save", func() {
			Expect(db.SaveRecipe(&Recipe{ID: "r1", Title: "Old", IsFavorite: true})).To(Succeed())
			recipe, err := db.GetRecipe("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(recipe.IsFavorite).To(BeTrue())
		})

		It("should return not found for a missing recipe", func() {
			_, err := db.GetRecipe("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("scan records", func() {
		It("should keep embedded recipes", func() {
			record := &ScanRecord{
				ID:                  "s1",
				Date:                time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
				ImageFiles:          []string{"s1_0.jpg"},
				DetectedIngredients: []string{"Milk"},
				Recipes:             []Recipe{{ID: "c1", Title: "Pancakes"}},
			}
			Expect(db.SaveScanRecord(record)).To(Succeed())

			records, err := db.ListScanRecords()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Recipes[0].Title).To(Equal("Pancakes"))

			Expect(db.DeleteScanRecord("s1")).To(Succeed())
			_, err = db.GetScanRecord("s1")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("preferences", func() {
		It("should return defaults when none were saved", func() {
			prefs, err := db.GetPreferences()
			Expect(err).NotTo(HaveOccurred())
			Expect(prefs).To(Equal(DefaultPreferences()))
		})

		It("should persist across reopen", func() {
			Expect(db.SavePreferences(&Preferences{ServingSize: 6, CuisinePreferences: []string{"Thai"}, APIKey: "sk-test"})).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())

			prefs, err := db.GetPreferences()
			Expect(err).NotTo(HaveOccurred())
			Expect(prefs.ServingSize).To(Equal(6))
			Expect(prefs.CuisinePreferences).To(Equal([]string{"Thai"}))
			Expect(prefs.APIKey).To(Equal("sk-test"))
		})
	})
})
