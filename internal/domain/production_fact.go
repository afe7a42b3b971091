package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductionFact is one shift-level production event taken from an export
// line. Only PostingDate is guaranteed; every other attribute may be nil.
type ProductionFact struct {
	ID                  int64
	JobID               uuid.UUID
	PostingDate         time.Time
	PostingTime         *time.Duration // offset from midnight
	NotificationDate    *time.Time
	LogNumber           *int64
	DocumentNumber      *int64
	MaterialSKU         *string
	MaterialDescription *string
	PalletNumber        *int64
	Quantity            *decimal.Decimal
	NetWeight           *decimal.Decimal
	ListCode            *string
	ProductionVersion   *string
	CostCenter          *string
	Shift               *string
	WorkingDay          *string
	SAPUser             *string
	WarehouseOperator   *string
	OriginStatus        *string
}

// NaturalKey identifies a fact independently of its surrogate ID. The cost
// center doubles as the machine identifier.
type NaturalKey struct {
	PostingDate time.Time
	Machine     string
	Operator    string
	HasOperator bool
	LogNumber   int64
	HasLog      bool
}

// Key returns the natural key of the fact. Nil operator and nil log number
// are kept distinct from empty values.
func (f ProductionFact) Key() NaturalKey {
	key := NaturalKey{PostingDate: f.PostingDate}
	if f.CostCenter != nil {
		key.Machine = *f.CostCenter
	}
	if f.WarehouseOperator != nil {
		key.Operator = *f.WarehouseOperator
		key.HasOperator = true
	}
	if f.LogNumber != nil {
		key.LogNumber = *f.LogNumber
		key.HasLog = true
	}
	return key
}

// DateRange is the min/max posting date over a record set.
type DateRange struct {
	Min time.Time
	Max time.Time
}

// PostingDateRange returns the posting date bounds of facts, or nil when
// facts is empty.
func PostingDateRange(facts []ProductionFact) *DateRange {
	if len(facts) == 0 {
		return nil
	}
	r := DateRange{Min: facts[0].PostingDate, Max: facts[0].PostingDate}
	for _, f := range facts[1:] {
		if f.PostingDate.Before(r.Min) {
			r.Min = f.PostingDate
		}
		if f.PostingDate.After(r.Max) {
			r.Max = f.PostingDate
		}
	}
	return &r
}
