package entity

// Asset is a vehicle or other serviceable asset from the asset register
type Asset struct {
	ID             int64  `json:"id"`
	RegisterNumber string `json:"register_number"`
	CostCenterID   *int64 `json:"cost_center_id,omitempty"`
	Model          string `json:"model,omitempty"`
}

// Employee is an actor known to the HR register, keyed by ramco id
type Employee struct {
	RamcoID  string `json:"ramco_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// Workshop is an external or internal service provider
type Workshop struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CostCenter groups assets for billing
type CostCenter struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ServiceType is one entry of the service-type catalog
type ServiceType struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}
