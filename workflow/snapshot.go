package workflow

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/properties_backend/models"
	"github.com/shopspring/decimal"
)

// Snapshot is the immutable view of the line-item store taken at the start
// of a run. Matchers and the rule evaluator only ever read it, so they can
// run concurrently without coordination.
type Snapshot struct {
	PropertyId int
	PeriodId   string
	Items      []models.LineItem

	byDoc     map[models.DocumentType][]*models.LineItem
	byDocName map[string]*models.LineItem
	byDocCode map[string]*models.LineItem
}

func BuildSnapshot(ctx context.Context, propertyId int, periodId string) (*Snapshot, error) {
	items, err := models.GetLineItems(ctx, propertyId, periodId)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(propertyId, periodId, items), nil
}

func NewSnapshot(propertyId int, periodId string, items []models.LineItem) *Snapshot {
	s := &Snapshot{
		PropertyId: propertyId,
		PeriodId:   periodId,
		Items:      items,
		byDoc:      make(map[models.DocumentType][]*models.LineItem),
		byDocName:  make(map[string]*models.LineItem),
		byDocCode:  make(map[string]*models.LineItem),
	}
	for i := range items {
		item := &items[i]
		s.byDoc[item.DocumentType] = append(s.byDoc[item.DocumentType], item)

		nameKey := docKey(string(item.DocumentType), item.AccountName)
		if existing, ok := s.byDocName[nameKey]; !ok || preferItem(item, existing) {
			s.byDocName[nameKey] = item
		}
		if item.AccountCode != "" {
			codeKey := docKey(string(item.DocumentType), item.AccountCode)
			if existing, ok := s.byDocCode[codeKey]; !ok || preferItem(item, existing) {
				s.byDocCode[codeKey] = item
			}
		}
	}
	return s
}

// preferItem breaks key collisions: totals beat subtotals beat detail rows,
// then higher extraction confidence wins. Load order breaks the remaining
// ties, which GetLineItems keeps deterministic.
func preferItem(candidate, existing *models.LineItem) bool {
	if candidate.IsTotal != existing.IsTotal {
		return candidate.IsTotal
	}
	if candidate.IsSubtotal != existing.IsSubtotal {
		return candidate.IsSubtotal
	}
	return candidate.ExtractionConfidence.GreaterThan(existing.ExtractionConfidence)
}

func (s *Snapshot) DocumentItems(docType models.DocumentType) []*models.LineItem {
	return s.byDoc[docType]
}

func (s *Snapshot) DocumentTypes() []models.DocumentType {
	ordered := []models.DocumentType{
		models.DocumentTypeBalanceSheet,
		models.DocumentTypeIncomeStatement,
		models.DocumentTypeCashFlow,
		models.DocumentTypeRentRoll,
		models.DocumentTypeBankStatement,
	}
	var present []models.DocumentType
	for _, t := range ordered {
		if len(s.byDoc[t]) > 0 {
			present = append(present, t)
		}
	}
	return present
}

// Lookup finds one line item by account name or code within a document type.
func (s *Snapshot) Lookup(docType models.DocumentType, account string) (*models.LineItem, bool) {
	if item, ok := s.byDocName[docKey(string(docType), account)]; ok {
		return item, true
	}
	if item, ok := s.byDocCode[docKey(string(docType), account)]; ok {
		return item, true
	}
	return nil, false
}

// ResolveRef implements RefResolver for formula evaluation.
func (s *Snapshot) ResolveRef(docType, account string) (decimal.Decimal, bool) {
	item, ok := s.Lookup(models.DocumentType(docType), account)
	if !ok {
		return decimal.Zero, false
	}
	return item.Amount, true
}

// docKey normalizes names so "Total Assets", "total_assets" and "TotalAssets"
// collide on purpose; extraction output is not consistent about spacing.
func docKey(docType, account string) string {
	return normalizeAccount(docType) + "|" + normalizeAccount(account)
}

func normalizeAccount(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
