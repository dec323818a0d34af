// Package pipeline drives the two-stage scan-to-recipe state machine: analyze
// captured images into ingredients, then generate recipes from the selected
// ones. A Pipeline holds at most one in-flight model call; its result is
// applied atomically, or dropped if the pipeline was reset meanwhile.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/fridgecheck/internal/scanning"
)

// DefaultTimeout bounds a single model call
const DefaultTimeout = 2 * time.Minute

// Option configures a Pipeline
type Option func(*Pipeline)

// WithIDGenerator replaces the run-local ID generator
func WithIDGenerator(gen func() string) Option {
	return func(p *Pipeline) { p.newID = gen }
}

// WithPrepareOptions sets how captured images are resized and compressed
func WithPrepareOptions(opts scanning.PrepareOptions) Option {
	return func(p *Pipeline) { p.prepare = opts }
}

// WithTimeout bounds each model call
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// Pipeline is the single owner of the scan state. All methods are safe for
// concurrent use; observers read Snapshot or Subscribe.
type Pipeline struct {
	scanner scanning.Scanner
	store   Store
	newID   func() string
	prepare scanning.PrepareOptions
	timeout time.Duration

	mu           sync.Mutex
	run          uint64
	phase        Phase
	err          error
	images       []scanning.Image
	ingredients  []DetectedIngredient
	selected     []string
	recipes      []RecipeCandidate
	inPantry     map[string]bool
	savedRecipes map[string]string
	scanRecordID string
	cancel       context.CancelFunc
	done         chan struct{}
	subscribers  map[int]chan Snapshot
	nextSub      int
}

// New creates a Pipeline in the Idle phase
func New(scanner scanning.Scanner, store Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		scanner:      scanner,
		store:        store,
		newID:        uuid.NewString,
		timeout:      DefaultTimeout,
		inPantry:     make(map[string]bool),
		savedRecipes: make(map[string]string),
		subscribers:  make(map[int]chan Snapshot),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// CaptureImages preprocesses and accumulates images for the next analysis.
// Valid while Idle, or after a failed analysis (which returns the pipeline to Idle).
func (p *Pipeline) CaptureImages(ctx context.Context, raws ...scanning.RawImage) error {
	p.mu.Lock()
	if err := p.checkCapture(); err != nil {
		p.mu.Unlock()
		return err
	}
	run := p.run
	p.mu.Unlock()

	images, err := scanning.PrepareAll(ctx, raws, p.prepare)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if run != p.run {
		return fmt.Errorf("pipeline was reset while preparing images: %w", ErrInvalidTransition)
	}
	if err := p.checkCapture(); err != nil {
		return err
	}
	p.images = append(p.images, images...)
	p.err = nil
	p.setPhase(PhaseIdle)
	return nil
}

func (p *Pipeline) checkCapture() error {
	switch {
	case p.phase == PhaseIdle || p.phase == PhaseAnalysisFailed:
		return nil
	case p.phase.Busy():
		return ErrBusy
	default:
		return ErrInvalidTransition
	}
}

// StartAnalysis sends the captured images to the model. It returns once the
// call is issued; the outcome arrives as an Analyzed or AnalysisFailed
// transition. A missing key or image fails the analysis without a network call.
func (p *Pipeline) StartAnalysis(apiKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkCapture(); err != nil {
		return err
	}
	if apiKey == "" {
		p.fail(PhaseAnalysisFailed, scanning.ErrNoAPIKey)
		return scanning.ErrNoAPIKey
	}
	if len(p.images) == 0 {
		p.fail(PhaseAnalysisFailed, scanning.ErrNoImage)
		return scanning.ErrNoImage
	}

	images := slices.Clone(p.images)
	ctx, cancel, done := p.begin()
	p.err = nil
	p.setPhase(PhaseAnalyzing)

	go p.analyze(ctx, cancel, done, p.run, apiKey, images)
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, cancel context.CancelFunc, done chan struct{}, run uint64, apiKey string, images []scanning.Image) {
	defer close(done)
	defer cancel()

	results, err := p.scanner.ScanIngredients(ctx, apiKey, images)

	p.mu.Lock()
	defer p.mu.Unlock()
	if run != p.run {
		slog.Debug("Discarding stale analysis result", "run", run, "current_run", p.run)
		return
	}
	p.finish()

	if err != nil {
		slog.Error("Ingredient analysis failed", "run", run, "error", err)
		p.fail(PhaseAnalysisFailed, err)
		return
	}

	ingredients := make([]DetectedIngredient, 0, len(results))
	for _, r := range results {
		ingredients = append(ingredients, DetectedIngredient{
			ID:                p.newID(),
			Name:              r.Name,
			Category:          r.Category,
			EstimatedQuantity: r.EstimatedQuantity,
			IsSelected:        true,
		})
	}
	p.ingredients = ingredients
	p.err = nil
	p.setPhase(PhaseAnalyzed)
}

// ToggleSelection flips the selection of one detected ingredient. It reports
// false, changing nothing, for an unknown ID or while no ingredients can be edited.
func (p *Pipeline) ToggleSelection(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.phase.hasIngredients() || p.phase == PhaseGenerating {
		return false
	}
	for i := range p.ingredients {
		if p.ingredients[i].ID == id {
			p.ingredients[i].IsSelected = !p.ingredients[i].IsSelected
			p.notify()
			return true
		}
	}
	return false
}

// StartGeneration asks the model for recipes from the selected ingredients.
// With nothing selected it is a no-op.
func (p *Pipeline) StartGeneration(prefs Preferences, pantryItems []string, apiKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.phase {
	case PhaseAnalyzed, PhaseGenerated, PhaseGenerationFailed:
	case PhaseAnalyzing, PhaseGenerating:
		return ErrBusy
	default:
		return ErrInvalidTransition
	}

	var selected []string
	for _, ing := range p.ingredients {
		if ing.IsSelected {
			selected = append(selected, ing.Name)
		}
	}
	if len(selected) == 0 {
		slog.Debug("No ingredients selected, skipping recipe generation", "run", p.run)
		return nil
	}
	if apiKey == "" {
		p.fail(PhaseGenerationFailed, scanning.ErrNoAPIKey)
		return scanning.ErrNoAPIKey
	}

	servings := prefs.ServingSize
	if servings <= 0 {
		servings = scanning.DefaultServingSize
	}
	req := scanning.RecipeRequest{
		Ingredients:         selected,
		PantryStaples:       slices.Clone(pantryItems),
		DietaryRestrictions: slices.Clone(prefs.DietaryRestrictions),
		Allergies:           slices.Clone(prefs.Allergies),
		CuisinePreferences:  slices.Clone(prefs.CuisinePreferences),
		ServingSize:         servings,
	}

	ctx, cancel, done := p.begin()
	p.selected = selected
	p.recipes = nil
	p.scanRecordID = ""
	p.err = nil
	p.setPhase(PhaseGenerating)

	go p.generate(ctx, cancel, done, p.run, apiKey, req)
	return nil
}

func (p *Pipeline) generate(ctx context.Context, cancel context.CancelFunc, done chan struct{}, run uint64, apiKey string, req scanning.RecipeRequest) {
	defer close(done)
	defer cancel()

	results, err := p.scanner.SuggestRecipes(ctx, apiKey, req)

	p.mu.Lock()
	defer p.mu.Unlock()
	if run != p.run {
		slog.Debug("Discarding stale recipe result", "run", run, "current_run", p.run)
		return
	}
	p.finish()

	if err != nil {
		slog.Error("Recipe generation failed", "run", run, "error", err)
		p.fail(PhaseGenerationFailed, err)
		return
	}

	recipes := make([]RecipeCandidate, 0, len(results))
	for _, r := range results {
		recipes = append(recipes, RecipeCandidate{
			ID:                    p.newID(),
			Title:                 r.Title,
			Summary:               r.Summary,
			Ingredients:           r.Ingredients,
			Steps:                 r.Steps,
			PrepTimeMinutes:       r.PrepTime,
			CookTimeMinutes:       r.CookTime,
			NutritionInfo:         r.NutritionalInfo,
			CuisineType:           r.CuisineType,
			Difficulty:            r.Difficulty,
			SourceIngredientNames: slices.Clone(req.Ingredients),
		})
	}
	p.recipes = recipes
	p.err = nil
	p.setPhase(PhaseGenerated)
}

// Reset returns to Idle from any phase, discarding images, ingredients,
// recipes and errors. An in-flight call is cancelled and its result dropped.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.run++
	if p.cancel != nil {
		p.cancel()
	}
	p.finish()
	p.err = nil
	p.images = nil
	p.ingredients = nil
	p.selected = nil
	p.recipes = nil
	p.inPantry = make(map[string]bool)
	p.savedRecipes = make(map[string]string)
	p.scanRecordID = ""
	p.setPhase(PhaseIdle)
}

// CommitSelectedToPantry inserts one pantry record per selected ingredient.
// Ingredients already committed in this run are skipped, so it is safe to repeat.
func (p *Pipeline) CommitSelectedToPantry() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.phase.hasIngredients() {
		return 0, ErrInvalidTransition
	}

	added := 0
	for _, ing := range p.ingredients {
		if !ing.IsSelected || p.inPantry[ing.ID] {
			continue
		}
		if err := p.store.AddPantryItem(ing); err != nil {
			return added, fmt.Errorf("adding %s to pantry: %w", ing.Name, err)
		}
		p.inPantry[ing.ID] = true
		added++
	}
	slog.Info("Committed ingredients to pantry", "run", p.run, "added", added)
	return added, nil
}

// SaveRecipe persists one recipe candidate and returns the persisted ID.
// Saving the same candidate again returns the existing ID.
func (p *Pipeline) SaveRecipe(candidateID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhaseGenerated {
		return "", ErrInvalidTransition
	}
	if id, ok := p.savedRecipes[candidateID]; ok {
		return id, nil
	}

	idx := slices.IndexFunc(p.recipes, func(r RecipeCandidate) bool { return r.ID == candidateID })
	if idx == -1 {
		return "", ErrUnknownCandidate
	}
	id, err := p.store.SaveRecipe(p.recipes[idx])
	if err != nil {
		return "", fmt.Errorf("saving recipe: %w", err)
	}
	p.savedRecipes[candidateID] = id
	p.notify()
	return id, nil
}

// SaveScanRecord persists the history record of this run once both stages
// completed. Repeated calls return the existing record ID.
func (p *Pipeline) SaveScanRecord() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhaseGenerated {
		return "", ErrInvalidTransition
	}
	if p.scanRecordID != "" {
		return p.scanRecordID, nil
	}

	scan := ScanResult{
		Images:          make([][]byte, 0, len(p.images)),
		IngredientNames: make([]string, 0, len(p.ingredients)),
		Recipes:         slices.Clone(p.recipes),
	}
	for _, img := range p.images {
		scan.Images = append(scan.Images, img.Data)
	}
	for _, ing := range p.ingredients {
		scan.IngredientNames = append(scan.IngredientNames, ing.Name)
	}

	id, err := p.store.SaveScanRecord(scan)
	if err != nil {
		return "", fmt.Errorf("saving scan record: %w", err)
	}
	p.scanRecordID = id
	p.notify()
	return id, nil
}

// Snapshot returns a copy of the current state
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

// Wait blocks until no model call is in flight and returns the resulting state
func (p *Pipeline) Wait(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return p.Snapshot(), ctx.Err()
		}
	}
	return p.Snapshot(), nil
}

// Subscribe returns a channel receiving the latest state after each
// transition, and a function to stop the subscription. Slow readers only
// see the most recent snapshot.
func (p *Pipeline) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Snapshot, 1)
	p.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subscribers, id)
			close(ch)
		})
	}
}

// begin must be called with mu held
func (p *Pipeline) begin() (context.Context, context.CancelFunc, chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	p.cancel = cancel
	p.done = make(chan struct{})
	return ctx, cancel, p.done
}

func (p *Pipeline) finish() {
	p.cancel = nil
	p.done = nil
}

func (p *Pipeline) fail(phase Phase, err error) {
	p.err = err
	p.setPhase(phase)
}

func (p *Pipeline) setPhase(phase Phase) {
	p.phase = phase
	slog.Info("Scan pipeline transition", "run", p.run, "phase", phase)
	p.notify()
}

func (p *Pipeline) notify() {
	snap := p.snapshot()
	for _, ch := range p.subscribers {
		select {
		case ch <- snap:
		default:
			// drop the stale snapshot so the newest one is delivered
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (p *Pipeline) snapshot() Snapshot {
	snap := Snapshot{
		Phase:        p.phase,
		Run:          p.run,
		ImageCount:   len(p.images),
		Ingredients:  slices.Clone(p.ingredients),
		Selected:     slices.Clone(p.selected),
		Recipes:      make([]RecipeCandidate, len(p.recipes)),
		SavedRecipes: maps.Clone(p.savedRecipes),
		ScanRecordID: p.scanRecordID,
		Err:          p.err,
	}
	for i, r := range p.recipes {
		r.Ingredients = slices.Clone(r.Ingredients)
		r.Steps = slices.Clone(r.Steps)
		r.SourceIngredientNames = slices.Clone(r.SourceIngredientNames)
		snap.Recipes[i] = r
	}
	if snap.Ingredients == nil {
		snap.Ingredients = []DetectedIngredient{}
	}
	if p.err != nil {
		snap.Error = p.err.Error()
	}
	return snap
}
