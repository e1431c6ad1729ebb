package domain

import (
	"time"

	"gorm.io/datatypes"
)

// DealStage represents a position in the sales pipeline
type DealStage string

const (
	DealStageProspecting   DealStage = "prospecting"
	DealStageQualification DealStage = "qualification"
	DealStageProposal      DealStage = "proposal"
	DealStageNegotiation   DealStage = "negotiation"
	DealStageClosedWon     DealStage = "closed_won"
	DealStageClosedLost    DealStage = "closed_lost"
)

// AllDealStages lists the canonical stages in pipeline order
var AllDealStages = []DealStage{
	DealStageProspecting,
	DealStageQualification,
	DealStageProposal,
	DealStageNegotiation,
	DealStageClosedWon,
	DealStageClosedLost,
}

// IsValid checks if the stage is one of the canonical values
func (s DealStage) IsValid() bool {
	for _, stage := range AllDealStages {
		if s == stage {
			return true
		}
	}
	return false
}

// IsClosed reports whether entering this stage stamps the closed date
func (s DealStage) IsClosed() bool {
	return s == DealStageClosedWon || s == DealStageClosedLost
}

// UserRole is the role attached to an authenticated session
type UserRole string

const (
	RoleSuperAdmin UserRole = "super_admin"
	RoleAdmin      UserRole = "admin"
	RoleManager    UserRole = "manager"
	RoleSalesRep   UserRole = "sales_rep"
)

// IsValid checks if the role is known
func (r UserRole) IsValid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleManager, RoleSalesRep:
		return true
	}
	return false
}

// IsAdmin reports whether the role may perform destructive operations
func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Customer is a named account deals belong to
type Customer struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Name       string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	ClientType string    `gorm:"type:varchar(50);column:client_type"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Customer) TableName() string {
	return "customers"
}

// Deal is a sales opportunity
type Deal struct {
	ID             int64      `gorm:"primaryKey;autoIncrement"`
	Name           string     `gorm:"type:varchar(255);not null"`
	MRC            float64    `gorm:"column:mrc;type:numeric(14,2);default:0"`
	NRC            float64    `gorm:"column:nrc;type:numeric(14,2);default:0"`
	ContractLength int        `gorm:"column:contract_length;default:12"`
	TCV            float64    `gorm:"column:tcv;type:numeric(16,2);default:0"`
	Value          float64    `gorm:"type:numeric(16,2);not null"`
	Category       string     `gorm:"type:varchar(50)"`
	ClientType     string     `gorm:"type:varchar(50);column:client_type"`
	Stage          DealStage  `gorm:"type:varchar(50);not null;default:'prospecting'"`
	UserID         int64      `gorm:"column:user_id;index"`
	CustomerID     *int64     `gorm:"column:customer_id;index"`
	CreatedAt      time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ClosedDate     *time.Time `gorm:"column:closed_date"`
}

func (Deal) TableName() string {
	return "deals"
}

// OptionalDealColumns are deal columns added by later migrations. Writes omit
// any of them the live schema does not have.
var OptionalDealColumns = []string{
	"mrc", "nrc", "contract_length", "tcv", "category", "client_type", "closed_date",
}

// Wip tracks post-sale fulfilment of a deal
type Wip struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	DealID    int64     `gorm:"column:deal_id;not null;index"`
	Status    string    `gorm:"type:varchar(50);default:'open'"`
	Notes     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Wip) TableName() string {
	return "wip"
}

// WipUpdate is a progress note on a WIP record
type WipUpdate struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	WipID     int64     `gorm:"column:wip_id;not null;index"`
	UserID    int64     `gorm:"column:user_id"`
	Note      string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (WipUpdate) TableName() string {
	return "wip_updates"
}

// RevenueRecognition is a monthly revenue entry booked against a WIP record
type RevenueRecognition struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	WipID     int64     `gorm:"column:wip_id;not null;index"`
	Month     string    `gorm:"type:varchar(7);not null"` // YYYY-MM
	Amount    float64   `gorm:"type:numeric(14,2);not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (RevenueRecognition) TableName() string {
	return "revenue_recognition"
}

// Installation is a scheduled on-site installation for a deal
type Installation struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	DealID        int64      `gorm:"column:deal_id;not null;index"`
	Status        string     `gorm:"type:varchar(50);default:'scheduled'"`
	ScheduledDate *time.Time `gorm:"column:scheduled_date"`
	CreatedAt     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Installation) TableName() string {
	return "installations"
}

// ActivityType identifies a lifecycle event
type ActivityType string

const (
	ActivityDealCreated  ActivityType = "deal_created"
	ActivityDealUpdated  ActivityType = "deal_updated"
	ActivityStageChanged ActivityType = "stage_changed"
	ActivityDealDeleted  ActivityType = "deal_deleted"
)

// ActivityRelatedDeal is the related_type value for deal activities
const ActivityRelatedDeal = "deal"

// Activity is an append-only log entry
type Activity struct {
	ID          int64             `gorm:"primaryKey;autoIncrement"`
	Type        ActivityType      `gorm:"type:varchar(50);not null"`
	UserID      int64             `gorm:"column:user_id"`
	Content     string            `gorm:"type:text"`
	RelatedID   *int64            `gorm:"column:related_id;index"`
	RelatedType *string           `gorm:"column:related_type;type:varchar(50)"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Activity) TableName() string {
	return "activities"
}
