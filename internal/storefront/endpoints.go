package storefront

import "fmt"

// Backend endpoint paths, relative to the API base URL.
const (
	EndpointLogin            = "/auth/login"
	EndpointRegister         = "/auth/register"
	EndpointLogout           = "/auth/logout"
	EndpointRefreshToken     = "/auth/refresh"
	EndpointMe               = "/auth/me"
	EndpointUsers            = "/users"
	EndpointSweets           = "/sweets"
	EndpointSweetsSearch     = "/sweets/search"
	EndpointCategories       = "/sweet/category"
	EndpointActiveCategories = "/sweet/category/active/list"
	EndpointPurchases        = "/purchases"
)

// EndpointSweetPurchase returns the purchase path of sweetID.
func EndpointSweetPurchase(sweetID int64) string {
	return fmt.Sprintf("%s/%d/purchase", EndpointSweets, sweetID)
}

// EndpointSweetRestock returns the restock path of sweetID.
func EndpointSweetRestock(sweetID int64) string {
	return fmt.Sprintf("%s/%d/restock", EndpointSweets, sweetID)
}

// EndpointPurchasesByUser returns the purchase history path of userID.
func EndpointPurchasesByUser(userID int64) string {
	return fmt.Sprintf("%s/user/%d", EndpointPurchases, userID)
}
