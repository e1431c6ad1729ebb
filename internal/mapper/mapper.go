package mapper

import (
	"github.com/straye-as/sales-pipeline-api/internal/domain"
)

// ToDealDTO converts Deal to DealDTO
func ToDealDTO(deal *domain.Deal) domain.DealDTO {
	return domain.DealDTO{
		ID:             deal.ID,
		Name:           deal.Name,
		MRC:            deal.MRC,
		NRC:            deal.NRC,
		ContractLength: deal.ContractLength,
		TCV:            deal.TCV,
		Value:          deal.Value,
		Category:       deal.Category,
		ClientType:     deal.ClientType,
		Stage:          deal.Stage,
		UserID:         deal.UserID,
		CustomerID:     deal.CustomerID,
		CreatedAt:      deal.CreatedAt,
		UpdatedAt:      deal.UpdatedAt,
		ClosedDate:     deal.ClosedDate,
	}
}

// ToCustomerDTO converts Customer to CustomerDTO
func ToCustomerDTO(customer *domain.Customer, dealCount int64) domain.CustomerDTO {
	return domain.CustomerDTO{
		ID:         customer.ID,
		Name:       customer.Name,
		ClientType: customer.ClientType,
		DealCount:  dealCount,
		CreatedAt:  customer.CreatedAt,
	}
}

// ToActivityDTO converts Activity to ActivityDTO
func ToActivityDTO(activity *domain.Activity) domain.ActivityDTO {
	dto := domain.ActivityDTO{
		ID:          activity.ID,
		Type:        activity.Type,
		UserID:      activity.UserID,
		Content:     activity.Content,
		RelatedID:   activity.RelatedID,
		RelatedType: activity.RelatedType,
		CreatedAt:   activity.CreatedAt,
	}
	if len(activity.Metadata) > 0 {
		dto.Metadata = map[string]interface{}(activity.Metadata)
	}
	return dto
}

// ToWipDTO converts Wip to WipDTO
func ToWipDTO(wip *domain.Wip) domain.WipDTO {
	return domain.WipDTO{
		ID:        wip.ID,
		DealID:    wip.DealID,
		Status:    wip.Status,
		Notes:     wip.Notes,
		CreatedAt: wip.CreatedAt,
	}
}

func ToWipUpdateDTO(update *domain.WipUpdate) domain.WipUpdateDTO {
	return domain.WipUpdateDTO{
		ID:        update.ID,
		WipID:     update.WipID,
		UserID:    update.UserID,
		Note:      update.Note,
		CreatedAt: update.CreatedAt,
	}
}

func ToRevenueRecognitionDTO(entry *domain.RevenueRecognition) domain.RevenueRecognitionDTO {
	return domain.RevenueRecognitionDTO{
		ID:        entry.ID,
		WipID:     entry.WipID,
		Month:     entry.Month,
		Amount:    entry.Amount,
		CreatedAt: entry.CreatedAt,
	}
}

func ToInstallationDTO(inst *domain.Installation) domain.InstallationDTO {
	return domain.InstallationDTO{
		ID:            inst.ID,
		DealID:        inst.DealID,
		Status:        inst.Status,
		ScheduledDate: inst.ScheduledDate,
		CreatedAt:     inst.CreatedAt,
	}
}

// DealSnapshot captures the fields recorded in activity metadata
func DealSnapshot(deal *domain.Deal) map[string]interface{} {
	snap := map[string]interface{}{
		"name":           deal.Name,
		"mrc":            deal.MRC,
		"nrc":            deal.NRC,
		"contractLength": deal.ContractLength,
		"tcv":            deal.TCV,
		"value":          deal.Value,
		"category":       deal.Category,
		"clientType":     deal.ClientType,
		"stage":          string(deal.Stage),
		"userId":         deal.UserID,
	}
	if deal.CustomerID != nil {
		snap["customerId"] = *deal.CustomerID
	}
	if deal.ClosedDate != nil {
		snap["closedDate"] = deal.ClosedDate.UTC().Format("2006-01-02T15:04:05Z")
	}
	return snap
}
