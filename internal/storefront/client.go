// Package storefront is the typed storefront API client. Every call runs
// through the interceptor pipeline; sessions live in a tokenstore.Store.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tyemirov/storefront/internal/tokenstore"
	"github.com/tyemirov/storefront/pkg/pipeline"
	"go.uber.org/zap"
)

var errMissingStore = errors.New("storefront.client.missing_store")

// Config configures New.
type Config struct {
	BaseURL               string
	HTTPClient            *http.Client
	Store                 *tokenstore.Store
	Logger                *zap.Logger
	Metrics               pipeline.MetricsRecorder
	Presenter             pipeline.Presenter
	PreemptiveRefreshSkew time.Duration
}

// Client calls the storefront backend.
type Client struct {
	pipeline *pipeline.Pipeline
	store    *tokenstore.Store
	logger   *zap.Logger
}

// LoginInput is the login body.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterInput is the registration body.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// Account is the user as the backend reports it.
type Account struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at,omitempty"`
}

type loginData struct {
	User         Account `json:"user"`
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
}

// Category is a sweet category.
type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

// Sweet is a catalog item.
type Sweet struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	CategoryID int64   `json:"categoryId"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	IsActive   bool    `json:"isActive"`
	Category   *struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"category,omitempty"`
}

// SweetQuery filters the sweet listing. Zero values are not sent.
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

// SweetSearch filters the unpaged search. Zero values are not sent.
type SweetSearch struct {
	Query    string
	Category string
	MinPrice float64
	MaxPrice float64
	InStock  *bool
}

// Pagination describes a listing page.
type Pagination struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
	HasNext    bool
	HasPrev    bool
}

// SweetPage is one page of sweets.
type SweetPage struct {
	Sweets     []Sweet
	Pagination Pagination
}

type sweetListData struct {
	Items      []Sweet `json:"items"`
	Total      int     `json:"total"`
	Pagination struct {
		CurrentPage     int  `json:"currentPage"`
		Limit           int  `json:"limit"`
		TotalPages      int  `json:"totalPages"`
		HasNextPage     bool `json:"hasNextPage"`
		HasPreviousPage bool `json:"hasPreviousPage"`
	} `json:"pagination"`
}

// Purchase is a completed order line.
type Purchase struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	SweetID    int64     `json:"sweetId"`
	Quantity   int       `json:"quantity"`
	TotalPrice float64   `json:"totalPrice"`
	CreatedAt  time.Time `json:"createdAt"`
}

// New builds an HTTP transport for BaseURL and a pipeline over it.
func New(configuration Config) (*Client, error) {
	if configuration.Store == nil {
		return nil, fmt.Errorf("storefront.client.new: %w", errMissingStore)
	}
	transport, transportErr := pipeline.NewHTTPTransport(configuration.BaseURL, configuration.HTTPClient)
	if transportErr != nil {
		return nil, fmt.Errorf("storefront.client.new: %w", transportErr)
	}
	options := []pipeline.Option{
		pipeline.WithSchemas(Schemas()),
		pipeline.WithLogger(configuration.Logger),
		pipeline.WithRefreshEndpoint(EndpointRefreshToken),
	}
	if configuration.Metrics != nil {
		options = append(options, pipeline.WithMetrics(configuration.Metrics))
	}
	if configuration.Presenter != nil {
		options = append(options, pipeline.WithPresenter(configuration.Presenter))
	}
	if configuration.PreemptiveRefreshSkew > 0 {
		options = append(options, pipeline.WithPreemptiveRefresh(configuration.PreemptiveRefreshSkew))
	}
	return NewWithPipeline(pipeline.New(transport, configuration.Store, options...), configuration.Store, configuration.Logger), nil
}

// NewWithPipeline wraps an existing pipeline.
func NewWithPipeline(requestPipeline *pipeline.Pipeline, store *tokenstore.Store, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{pipeline: requestPipeline, store: store, logger: logger}
}

// Pipeline exposes the underlying pipeline for raw requests.
func (client *Client) Pipeline() *pipeline.Pipeline {
	return client.pipeline
}

// Login authenticates and stores the session.
func (client *Client) Login(ctx context.Context, input LoginInput) (*tokenstore.User, error) {
	response, err := client.pipeline.Post(ctx, EndpointLogin, input)
	if err != nil {
		return nil, err
	}
	envelope, decodeErr := pipeline.DecodeEnvelope[loginData](response)
	if decodeErr != nil {
		return nil, fmt.Errorf("storefront.login: %w", decodeErr)
	}
	user := sessionUser(envelope.Data.User)
	tokens := tokenstore.TokenPair{AccessToken: envelope.Data.AccessToken, RefreshToken: envelope.Data.RefreshToken}
	if storeErr := client.store.SetAuthData(ctx, user, tokens); storeErr != nil {
		return nil, fmt.Errorf("storefront.login: %w", storeErr)
	}
	client.logger.Info("logged in", zap.String("code", "storefront.login.success"), zap.Int64("user_id", user.UserID))
	return &user, nil
}

func sessionUser(account Account) tokenstore.User {
	firstName, lastName, _ := strings.Cut(strings.TrimSpace(account.Name), " ")
	return tokenstore.User{
		UserID:   account.ID,
		UserName: account.Name,
		Email:    account.Email,
		Role:     account.Role,
		Profile: map[string]any{
			"firstName": firstName,
			"lastName":  strings.TrimSpace(lastName),
			"isActive":  account.IsActive,
		},
	}
}

// Register creates an account. It does not log in.
func (client *Client) Register(ctx context.Context, input RegisterInput) (Account, error) {
	response, err := client.pipeline.Post(ctx, EndpointRegister, input)
	if err != nil {
		return Account{}, err
	}
	envelope, decodeErr := pipeline.DecodeEnvelope[Account](response)
	if decodeErr != nil {
		return Account{}, fmt.Errorf("storefront.register: %w", decodeErr)
	}
	return envelope.Data, nil
}

// Logout tells the backend and clears the local session even when the
// backend call fails.
func (client *Client) Logout(ctx context.Context) error {
	if _, err := client.pipeline.Post(ctx, EndpointLogout, map[string]any{}); err != nil {
		client.logger.Warn("backend logout failed", zap.String("code", "storefront.logout.backend"), zap.Error(err))
	}
	if clearErr := client.store.ClearAuthData(ctx); clearErr != nil {
		return fmt.Errorf("storefront.logout: %w", clearErr)
	}
	return nil
}

// Refresh exchanges the stored refresh token for a new access token.
func (client *Client) Refresh(ctx context.Context) error {
	return client.pipeline.Refresh(ctx)
}

// Me returns the authenticated account.
func (client *Client) Me(ctx context.Context) (Account, error) {
	response, err := client.pipeline.Get(ctx, EndpointMe)
	if err != nil {
		return Account{}, err
	}
	envelope, decodeErr := pipeline.DecodeEnvelope[Account](response)
	if decodeErr != nil {
		return Account{}, fmt.Errorf("storefront.me: %w", decodeErr)
	}
	return envelope.Data, nil
}

// ListSweets returns one page of the catalog.
func (client *Client) ListSweets(ctx context.Context, query SweetQuery) (SweetPage, error) {
	target := EndpointSweets
	if encoded := query.values().Encode(); encoded != "" {
		target += "?" + encoded
	}
	response, err := client.pipeline.Get(ctx, target)
	if err != nil {
		return SweetPage{}, err
	}
	envelope, decodeErr := pipeline.DecodeEnvelope[sweetListData](response)
	if decodeErr != nil {
		return SweetPage{}, fmt.Errorf("storefront.list_sweets: %w", decodeErr)
	}
	data := envelope.Data
	return SweetPage{
		Sweets: data.Items,
		Pagination: Pagination{
			Page:       data.Pagination.CurrentPage,
			Limit:      data.Pagination.Limit,
			Total:      data.Total,
			TotalPages: data.Pagination.TotalPages,
			HasNext:    data.Pagination.HasNextPage,
			HasPrev:    data.Pagination.HasPreviousPage,
		},
	}, nil
}

func (query SweetQuery) values() url.Values {
	values := url.Values{}
	if query.Page > 0 {
		values.Set("page", strconv.Itoa(query.Page))
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.SortBy != "" {
		values.Set("sortBy", query.SortBy)
	}
	if query.SortOrder != "" {
		values.Set("sortOrder", query.SortOrder)
	}
	if query.Name != "" {
		values.Set("name", query.Name)
	}
	if query.Category != "" {
		values.Set("category", query.Category)
	}
	if query.MinPrice > 0 {
		values.Set("minPrice", strconv.FormatFloat(query.MinPrice, 'f', -1, 64))
	}
	if query.MaxPrice > 0 {
		values.Set("maxPrice", strconv.FormatFloat(query.MaxPrice, 'f', -1, 64))
	}
	if query.InStock != nil {
		values.Set("inStock", strconv.FormatBool(*query.InStock))
	}
	return values
}

// SearchSweets returns every sweet matching search.
func (client *Client) SearchSweets(ctx context.Context, search SweetSearch) ([]Sweet, error) {
	target := EndpointSweetsSearch
	if encoded := search.values().Encode(); encoded != "" {
		target += "?" + encoded
	}
	response, err := client.pipeline.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	envelope, decodeErr := pipeline.DecodeEnvelope[[]Sweet](response)
	if decodeErr != nil {
		return nil, fmt.Errorf("storefront.search_sweets: %w", decodeErr)
	}
	return envelope.Data, nil
}

func (search SweetSearch) values() url.Values {
	values := SweetQuery{
		Category: search.Category,
		MinPrice: search.MinPrice,
		MaxPrice: search.MaxPrice,
		InStock:  search.InStock,
	}.values()
	if search.Query != "" {
		values.Set("q", search.Query)
	}
	return values
}

// PurchaseSweet buys quantity units of sweetID.
func (client *Client) PurchaseSweet(ctx context.Context, sweetID int64, quantity int) (Purchase, error) {
	response, err := client.pipeline.Post(ctx, EndpointSweetPurchase(sweetID), map[string]any{"quantity": quantity})
	if err != nil {
		return Purchase{}, err
	}
	envelope, decodeErr := pipeline.DecodeEnvelope[Purchase](response)
	if decodeErr != nil {
		return Purchase{}, fmt.Errorf("storefront.purchase_sweet: %w", decodeErr)
	}
	return envelope.Data, nil
}

// RestockSweet adds quantity units to sweetID. Admin only.
func (client *Client) RestockSweet(ctx context.Context, sweetID int64, quantity int) (Sweet, error) {
	response, err := client.pipeline.Post(ctx, EndpointSweetRestock(sweetID), map[string]any{"quantity": quantity})
	if err != nil {
		return Sweet{}, err
	}
	envelope, decodeErr := pipeline.DecodeEnvelope[Sweet](response)
	if decodeErr != nil {
		return Sweet{}, fmt.Errorf("storefront.restock_sweet: %w", decodeErr)
	}
	return envelope.Data, nil
}

// ListCategories returns the active categories.
func (client *Client) ListCategories(ctx context.Context) ([]Category, error) {
	response, err := client.pipeline.Get(ctx, EndpointActiveCategories)
	if err != nil {
		return nil, err
	}
	envelope, decodeErr := pipeline.DecodeEnvelope[[]Category](response)
	if decodeErr != nil {
		return nil, fmt.Errorf("storefront.list_categories: %w", decodeErr)
	}
	return envelope.Data, nil
}

// ListAllCategories returns every category, inactive ones included.
func (client *Client) ListAllCategories(ctx context.Context) ([]Category, error) {
	response, err := client.pipeline.Get(ctx, EndpointCategories)
	if err != nil {
		return nil, err
	}
	envelope, decodeErr := pipeline.DecodeEnvelope[[]Category](response)
	if decodeErr != nil {
		return nil, fmt.Errorf("storefront.list_all_categories: %w", decodeErr)
	}
	return envelope.Data, nil
}

// ListUserPurchases returns the purchase history of userID. Customers may
// only read their own.
func (client *Client) ListUserPurchases(ctx context.Context, userID int64) ([]Purchase, error) {
	response, err := client.pipeline.Get(ctx, EndpointPurchasesByUser(userID))
	if err != nil {
		return nil, err
	}
	envelope, decodeErr := pipeline.DecodeEnvelope[[]Purchase](response)
	if decodeErr != nil {
		return nil, fmt.Errorf("storefront.list_user_purchases: %w", decodeErr)
	}
	return envelope.Data, nil
}

// ListUsers returns every account. Admin only.
func (client *Client) ListUsers(ctx context.Context) ([]Account, error) {
	response, err := client.pipeline.Get(ctx, EndpointUsers)
	if err != nil {
		return nil, err
	}
	envelope, decodeErr := pipeline.DecodeEnvelope[[]Account](response)
	if decodeErr != nil {
		return nil, fmt.Errorf("storefront.list_users: %w", decodeErr)
	}
	return envelope.Data, nil
}
