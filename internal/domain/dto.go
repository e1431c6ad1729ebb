package domain

import "time"

// DealDTO is the API representation of a deal
type DealDTO struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	MRC            float64    `json:"mrc"`
	NRC            float64    `json:"nrc"`
	ContractLength int        `json:"contractLength"`
	TCV            float64    `json:"tcv"`
	Value          float64    `json:"value"`
	Category       string     `json:"category,omitempty"`
	ClientType     string     `json:"clientType,omitempty"`
	Stage          DealStage  `json:"stage"`
	UserID         int64      `json:"userId"`
	CustomerID     *int64     `json:"customerId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	ClosedDate     *time.Time `json:"closedDate,omitempty"`
}

// CustomerDTO is the API representation of a customer
type CustomerDTO struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ClientType string    `json:"clientType,omitempty"`
	DealCount  int64     `json:"dealCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ActivityDTO is the API representation of an activity entry
type ActivityDTO struct {
	ID          int64                  `json:"id"`
	Type        ActivityType           `json:"type"`
	UserID      int64                  `json:"userId"`
	Content     string                 `json:"content"`
	RelatedID   *int64                 `json:"relatedId,omitempty"`
	RelatedType *string                `json:"relatedType,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// WipDTO is the API representation of a WIP record
type WipDTO struct {
	ID        int64     `json:"id"`
	DealID    int64     `json:"dealId"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// WipUpdateDTO is the API representation of a WIP progress note
type WipUpdateDTO struct {
	ID        int64     `json:"id"`
	WipID     int64     `json:"wipId"`
	UserID    int64     `json:"userId"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
}

// RevenueRecognitionDTO is the API representation of a revenue entry
type RevenueRecognitionDTO struct {
	ID        int64     `json:"id"`
	WipID     int64     `json:"wipId"`
	Month     string    `json:"month"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// InstallationDTO is the API representation of an installation
type InstallationDTO struct {
	ID            int64      `json:"id"`
	DealID        int64      `json:"dealId"`
	Status        string     `json:"status"`
	ScheduledDate *time.Time `json:"scheduledDate,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// CreateDealRequest carries the fields accepted when creating a deal.
// A zero or missing TCV is computed from MRC, NRC and contract length.
type CreateDealRequest struct {
	Name           string    `json:"name" validate:"required,max=255"`
	CustomerName   string    `json:"customerName" validate:"required,max=255"`
	ClientType     string    `json:"clientType" validate:"max=50"`
	Category       string    `json:"category" validate:"max=50"`
	MRC            float64   `json:"mrc"`
	NRC            float64   `json:"nrc"`
	ContractLength *int      `json:"contractLength,omitempty"`
	TCV            *float64  `json:"tcv,omitempty"`
	Stage          DealStage `json:"stage,omitempty"`
	UserID         int64     `json:"userId,omitempty"`
}

// UpdateDealRequest is a partial update; nil fields are left untouched
type UpdateDealRequest struct {
	Name           *string    `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	MRC            *float64   `json:"mrc,omitempty"`
	NRC            *float64   `json:"nrc,omitempty"`
	ContractLength *int       `json:"contractLength,omitempty"`
	TCV            *float64   `json:"tcv,omitempty"`
	Category       *string    `json:"category,omitempty" validate:"omitempty,max=50"`
	ClientType     *string    `json:"clientType,omitempty" validate:"omitempty,max=50"`
	Stage          *DealStage `json:"stage,omitempty"`
	UserID         *int64     `json:"userId,omitempty"`
	CustomerID     *int64     `json:"customerId,omitempty"`
}

// HasFinancials reports whether any input to TCV or value is present
func (r *UpdateDealRequest) HasFinancials() bool {
	return r.MRC != nil || r.NRC != nil || r.ContractLength != nil || r.TCV != nil
}

// UpdateDealStageRequest moves a deal to another stage
type UpdateDealStageRequest struct {
	Stage DealStage `json:"stage" validate:"required"`
}

// CreateWipRequest opens a WIP record for a deal
type CreateWipRequest struct {
	Status string `json:"status" validate:"omitempty,max=50"`
	Notes  string `json:"notes"`
}

// CreateWipUpdateRequest adds a progress note to a WIP record
type CreateWipUpdateRequest struct {
	Note string `json:"note" validate:"required"`
}

// RecognizeRevenueRequest books revenue for a month against a WIP record
type RecognizeRevenueRequest struct {
	Month  string  `json:"month" validate:"required,datetime=2006-01"`
	Amount float64 `json:"amount" validate:"gte=0"`
}

// CreateInstallationRequest schedules an installation for a deal
type CreateInstallationRequest struct {
	Status        string     `json:"status" validate:"omitempty,max=50"`
	ScheduledDate *time.Time `json:"scheduledDate,omitempty"`
}

// DeleteDealResponse reports the outcome of a cascading delete
type DeleteDealResponse struct {
	Deleted  bool   `json:"deleted"`
	Path     string `json:"path"`
	Residual int64  `json:"residualRows,omitempty"`
}
