package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/prodfacts/internal/domain"

	"github.com/shopspring/decimal"
)

// Column labels of the production export.
const (
	LabelPostingDate         = "Posting Date"
	LabelPostingTime         = "Posting Time"
	LabelNotificationDate    = "Notification Date"
	LabelLogNumber           = "Log Number"
	LabelDocumentNumber      = "Document Number"
	LabelMaterial            = "Material"
	LabelMaterialDescription = "Material Description"
	LabelPalletNumber        = "Pallet Number"
	LabelQuantity            = "Quantity"
	LabelNetWeight           = "Net Weight"
	LabelListCode            = "List"
	LabelProductionVersion   = "Production Version"
	LabelCostCenter          = "Cost Center"
	LabelShift               = "Shift"
	LabelWorkingDay          = "Working Day"
	LabelSAPUser             = "SAP User"
	LabelWarehouseOperator   = "Warehouse Operator"
	LabelStatus              = "Status"
)

const (
	dateLayout = "2.1.2006"
	timeLayout = "15:04:05"
)

// recordDraft is the mutable state a record is assembled in.
type recordDraft struct {
	fact           domain.ProductionFact
	hasPostingDate bool
}

type coerceFunc func(raw string, d *recordDraft) error

type fieldCoercion struct {
	label  string
	coerce coerceFunc
}

// coercions is the static label → coercion table. Order only affects log
// output; every entry is applied independently.
var coercions = []fieldCoercion{
	{LabelPostingDate, dateField(func(d *recordDraft, v time.Time) {
		d.fact.PostingDate = v
		d.hasPostingDate = true
	})},
	{LabelPostingTime, timeField(func(d *recordDraft, v time.Duration) { d.fact.PostingTime = &v })},
	{LabelNotificationDate, dateField(func(d *recordDraft, v time.Time) { d.fact.NotificationDate = &v })},
	{LabelLogNumber, longField(func(d *recordDraft, v int64) { d.fact.LogNumber = &v })},
	{LabelDocumentNumber, longField(func(d *recordDraft, v int64) { d.fact.DocumentNumber = &v })},
	{LabelMaterial, textField(func(d *recordDraft, v string) { d.fact.MaterialSKU = &v })},
	{LabelMaterialDescription, textField(func(d *recordDraft, v string) { d.fact.MaterialDescription = &v })},
	{LabelPalletNumber, longField(func(d *recordDraft, v int64) { d.fact.PalletNumber = &v })},
	{LabelQuantity, decimalField(func(d *recordDraft, v decimal.Decimal) { d.fact.Quantity = &v })},
	{LabelNetWeight, decimalField(func(d *recordDraft, v decimal.Decimal) { d.fact.NetWeight = &v })},
	{LabelListCode, textField(func(d *recordDraft, v string) { d.fact.ListCode = &v })},
	{LabelProductionVersion, textField(func(d *recordDraft, v string) { d.fact.ProductionVersion = &v })},
	{LabelCostCenter, textField(func(d *recordDraft, v string) { d.fact.CostCenter = &v })},
	{LabelShift, textField(func(d *recordDraft, v string) { d.fact.Shift = &v })},
	{LabelWorkingDay, textField(func(d *recordDraft, v string) { d.fact.WorkingDay = &v })},
	{LabelSAPUser, textField(func(d *recordDraft, v string) { d.fact.SAPUser = &v })},
	{LabelWarehouseOperator, textField(func(d *recordDraft, v string) { d.fact.WarehouseOperator = &v })},
	{LabelStatus, statusField(func(d *recordDraft, v string) { d.fact.OriginStatus = &v })},
}

// isNaN reports the sentinel "NaN" text, which means null for every type.
func isNaN(raw string) bool {
	return strings.EqualFold(raw, "nan")
}

func dateField(set func(*recordDraft, time.Time)) coerceFunc {
	return func(raw string, d *recordDraft) error {
		v, err := ParseDate(raw)
		if err != nil {
			return err
		}
		set(d, v)
		return nil
	}
}

func timeField(set func(*recordDraft, time.Duration)) coerceFunc {
	return func(raw string, d *recordDraft) error {
		v, err := ParseTimeOfDay(raw)
		if err != nil {
			return err
		}
		set(d, v)
		return nil
	}
}

func longField(set func(*recordDraft, int64)) coerceFunc {
	return func(raw string, d *recordDraft) error {
		v, err := ParseLong(raw)
		if err != nil {
			return err
		}
		set(d, v)
		return nil
	}
}

func decimalField(set func(*recordDraft, decimal.Decimal)) coerceFunc {
	return func(raw string, d *recordDraft) error {
		v, err := ParseDecimal(raw)
		if err != nil {
			return err
		}
		set(d, v)
		return nil
	}
}

func textField(set func(*recordDraft, string)) coerceFunc {
	return func(raw string, d *recordDraft) error {
		set(d, raw)
		return nil
	}
}

func statusField(set func(*recordDraft, string)) coerceFunc {
	return func(raw string, d *recordDraft) error {
		v := strings.TrimSpace(strings.TrimPrefix(raw, "@"))
		if v == "" {
			return nil
		}
		set(d, v)
		return nil
	}
}

// ParseDate parses a day.month.year date such as "05.03.2024".
func ParseDate(raw string) (time.Time, error) {
	v, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return v, nil
}

// ParseTimeOfDay parses hh:mm:ss into an offset from midnight.
func ParseTimeOfDay(raw string) (time.Duration, error) {
	v, err := time.Parse(timeLayout, raw)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", raw, err)
	}
	return time.Duration(v.Hour())*time.Hour +
		time.Duration(v.Minute())*time.Minute +
		time.Duration(v.Second())*time.Second, nil
}

// ParseDecimal parses a locale-formatted decimal, treating ',' as the
// decimal point.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal %q: %w", raw, err)
	}
	return v, nil
}

// ParseLong parses an integral value that may be written in scientific
// notation ("1.23E+5"). The value is truncated toward zero and must fit in
// an int64.
func ParseLong(raw string) (int64, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	n := v.Truncate(0).BigInt()
	if !n.IsInt64() {
		return 0, fmt.Errorf("integer %q out of range", raw)
	}
	return n.Int64(), nil
}
