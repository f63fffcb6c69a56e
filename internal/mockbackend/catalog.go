package mockbackend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrSweetNotFound is returned for an unknown or inactive sweet.
	ErrSweetNotFound = errors.New("catalog.sweet_not_found")
	// ErrInsufficientStock is returned when a purchase exceeds the stock.
	ErrInsufficientStock = errors.New("catalog.insufficient_stock")
)

// Category groups sweets.
type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

// CategoryRef is the category summary embedded in a sweet.
type CategoryRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Sweet is a catalog item.
type Sweet struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	CategoryID int64       `json:"categoryId"`
	Price      float64     `json:"price"`
	Quantity   int         `json:"quantity"`
	IsActive   bool        `json:"isActive"`
	Category   CategoryRef `json:"category"`
}

// Purchase records a completed order line.
type Purchase struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	SweetID    int64     `json:"sweetId"`
	Quantity   int       `json:"quantity"`
	TotalPrice float64   `json:"totalPrice"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SweetQuery filters and pages the sweet listing.
type SweetQuery struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
	Name      string
	Category  string
	MinPrice  float64
	MaxPrice  float64
	InStock   *bool
}

// SweetPage is one page of the sweet listing.
type SweetPage struct {
	Items      []Sweet
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// Catalog keeps sweets, categories and purchases in memory.
type Catalog struct {
	clock      Clock
	mutex      sync.Mutex
	categories []Category
	sweets     []Sweet
	purchases  []Purchase
}

// NewCatalog constructs a catalog seeded with a few categories and sweets.
func NewCatalog(clock Clock) *Catalog {
	if clock == nil {
		clock = systemClock{}
	}
	catalog := &Catalog{
		clock: clock,
		categories: []Category{
			{ID: 1, Name: "Chocolate", IsActive: true},
			{ID: 2, Name: "Candy", IsActive: true},
			{ID: 3, Name: "Seasonal", IsActive: false},
		},
	}
	catalog.sweets = []Sweet{
		catalog.sweet(1, "Dark Truffle", 1, 4.5, 20),
		catalog.sweet(2, "Milk Bar", 1, 2.25, 50),
		catalog.sweet(3, "Sour Worms", 2, 1.75, 0),
		catalog.sweet(4, "Peppermint Swirl", 2, 0.9, 120),
		catalog.sweet(5, "Gingerbread", 3, 3.0, 10),
	}
	return catalog
}

func (catalog *Catalog) sweet(id int64, name string, categoryID int64, price float64, quantity int) Sweet {
	category := catalog.categories[categoryID-1]
	return Sweet{
		ID:         id,
		Name:       name,
		CategoryID: categoryID,
		Price:      price,
		Quantity:   quantity,
		IsActive:   true,
		Category:   CategoryRef{ID: category.ID, Name: category.Name},
	}
}

// ActiveCategories returns the active categories ordered by id.
func (catalog *Catalog) ActiveCategories() []Category {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()
	active := make([]Category, 0, len(catalog.categories))
	for _, category := range catalog.categories {
		if category.IsActive {
			active = append(active, category)
		}
	}
	return active
}

// ListSweets filters, sorts and pages the catalog.
func (catalog *Catalog) ListSweets(query SweetQuery) SweetPage {
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 10
	}

	catalog.mutex.Lock()
	matched := make([]Sweet, 0, len(catalog.sweets))
	for _, sweet := range catalog.sweets {
		if matchesQuery(sweet, query) {
			matched = append(matched, sweet)
		}
	}
	catalog.mutex.Unlock()

	sortSweets(matched, query.SortBy, strings.EqualFold(query.SortOrder, "desc"))

	page := SweetPage{Total: len(matched), Page: query.Page, Limit: query.Limit, Items: []Sweet{}}
	page.TotalPages = (len(matched) + query.Limit - 1) / query.Limit
	if page.TotalPages == 0 {
		page.TotalPages = 1
	}
	start := (query.Page - 1) * query.Limit
	if start < len(matched) {
		end := start + query.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Items = matched[start:end]
	}
	return page
}

func matchesQuery(sweet Sweet, query SweetQuery) bool {
	if !sweet.IsActive {
		return false
	}
	if query.Name != "" && !strings.Contains(strings.ToLower(sweet.Name), strings.ToLower(query.Name)) {
		return false
	}
	if query.Category != "" && !strings.EqualFold(sweet.Category.Name, query.Category) {
		return false
	}
	if query.MinPrice > 0 && sweet.Price < query.MinPrice {
		return false
	}
	if query.MaxPrice > 0 && sweet.Price > query.MaxPrice {
		return false
	}
	if query.InStock != nil && (sweet.Quantity > 0) != *query.InStock {
		return false
	}
	return true
}

func sortSweets(sweets []Sweet, sortBy string, descending bool) {
	less := func(left Sweet, right Sweet) bool { return left.ID < right.ID }
	switch sortBy {
	case "name":
		less = func(left Sweet, right Sweet) bool { return left.Name < right.Name }
	case "price":
		less = func(left Sweet, right Sweet) bool { return left.Price < right.Price }
	case "quantity":
		less = func(left Sweet, right Sweet) bool { return left.Quantity < right.Quantity }
	}
	sort.SliceStable(sweets, func(i int, j int) bool {
		if descending {
			return less(sweets[j], sweets[i])
		}
		return less(sweets[i], sweets[j])
	})
}

// Purchase decrements the stock of sweetID and records the order.
func (catalog *Catalog) Purchase(userID int64, sweetID int64, quantity int) (Purchase, error) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	for index := range catalog.sweets {
		sweet := &catalog.sweets[index]
		if sweet.ID != sweetID || !sweet.IsActive {
			continue
		}
		if sweet.Quantity < quantity {
			return Purchase{}, fmt.Errorf("catalog.purchase: %w", ErrInsufficientStock)
		}
		sweet.Quantity -= quantity
		purchase := Purchase{
			ID:         int64(len(catalog.purchases) + 1),
			UserID:     userID,
			SweetID:    sweetID,
			Quantity:   quantity,
			TotalPrice: float64(quantity) * sweet.Price,
			CreatedAt:  catalog.clock.Now(),
		}
		catalog.purchases = append(catalog.purchases, purchase)
		return purchase, nil
	}
	return Purchase{}, fmt.Errorf("catalog.purchase: %w", ErrSweetNotFound)
}

// Restock adds quantity units to sweetID and returns the updated sweet.
func (catalog *Catalog) Restock(sweetID int64, quantity int) (Sweet, error) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	for index := range catalog.sweets {
		sweet := &catalog.sweets[index]
		if sweet.ID != sweetID {
			continue
		}
		sweet.Quantity += quantity
		return *sweet, nil
	}
	return Sweet{}, fmt.Errorf("catalog.restock: %w", ErrSweetNotFound)
}

// Categories returns every category, inactive ones included, ordered by id.
func (catalog *Catalog) Categories() []Category {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()
	return append([]Category{}, catalog.categories...)
}

// Search returns every active sweet matching query, unpaged and ordered by id.
func (catalog *Catalog) Search(query SweetQuery) []Sweet {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()
	matched := []Sweet{}
	for _, sweet := range catalog.sweets {
		if matchesQuery(sweet, query) {
			matched = append(matched, sweet)
		}
	}
	return matched
}

// PurchasesByUser returns the orders of userID, oldest first.
func (catalog *Catalog) PurchasesByUser(userID int64) []Purchase {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()
	history := []Purchase{}
	for _, purchase := range catalog.purchases {
		if purchase.UserID == userID {
			history = append(history, purchase)
		}
	}
	return history
}
