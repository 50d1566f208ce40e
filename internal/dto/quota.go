package dto

// QuotaStatus reports the monthly support-request allowance for an account.
type QuotaStatus struct {
	CanCreate          bool   `json:"can_create"`
	Used               int    `json:"used"`
	BaseLimit          int    `json:"base_limit"`
	AdditionalPackages int    `json:"additional_packages"`
	TotalLimit         int    `json:"total_limit"`
	Reason             string `json:"reason,omitempty"`
}

// IncrementUsageRequest optionally names the account whose usage counter
// advances. An empty email means the caller's own account.
type IncrementUsageRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

// IncrementUsageResponse returns the counter after the increment.
type IncrementUsageResponse struct {
	Success       bool `json:"success"`
	NewUsageCount int  `json:"new_usage_count"`
}

// PurchasePackagesRequest adds purchasable allowance blocks to the caller's account.
type PurchasePackagesRequest struct {
	Packages int `json:"packages" validate:"required,min=1,max=10"`
}

// PurchasePackagesResponse reports the package count and limit after purchase.
type PurchasePackagesResponse struct {
	Success         bool `json:"success"`
	NewPackageCount int  `json:"new_package_count"`
	NewTotalLimit   int  `json:"new_total_limit"`
}

// UsageResetResult reports how many accounts had their counter zeroed.
type UsageResetResult struct {
	AccountsReset int `json:"accounts_reset"`
}
