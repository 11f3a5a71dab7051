package dto

// UpsertPolicyRequest creates or updates the policy for one risk tier.
type UpsertPolicyRequest struct {
	FrequencyMonths         int `json:"frequencyMonths" binding:"required,min=1"`
	GracePeriodMonths       int `json:"gracePeriodMonths" binding:"min=0"`
	ModelChangeLeadTimeDays int `json:"modelChangeLeadTimeDays" binding:"min=0"`
}
