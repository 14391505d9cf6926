package entity

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Order represents a purchase order stored in the relational database.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID                int64             `bun:",pk,autoincrement"`
	PONumber          string            `bun:"po_number,notnull"`
	Vendor            string            `bun:"vendor,notnull"`
	Site              string            `bun:"site,notnull"`
	EquipmentName     string            `bun:"equipment_name,notnull"`
	EquipmentModel    string            `bun:"equipment_model,notnull"`
	EquipmentSerial   string            `bun:"equipment_serial,notnull"`
	OrderDate         string            `bun:"order_date,notnull"`
	DeliveryDate      string            `bun:"delivery_date,notnull"`
	InstallDate       string            `bun:"install_date,notnull"`
	HasWarranty       bool              `bun:"has_warranty,notnull"`
	NeedsInstallation bool              `bun:"needs_installation,notnull"`
	NeedsTraining     bool              `bun:"needs_training,notnull"`
	Remarks           string            `bun:"remarks,notnull"`
	Attributes        map[string]string `bun:"attributes"`
	InvoiceFile       string            `bun:"invoice_file,notnull"`
	WorkconfirmFile   string            `bun:"workconfirm_file,notnull"`
	InspectFile       string            `bun:"inspect_file,notnull"`
	ExtraPDFFile      string            `bun:"extra_pdf_file,notnull"`
	SearchText        string            `bun:"search_text,notnull"`
	RowVersion        int64             `bun:"row_version,notnull"`
	CreatedAt         time.Time         `bun:"created_at,notnull"`
	UpdatedAt         time.Time         `bun:"updated_at,notnull"`
}

// EditableColumns lists the columns a client update replaces. Identity, version,
// timestamps and attachment references are managed by the server.
var EditableColumns = []string{
	"po_number",
	"vendor",
	"site",
	"equipment_name",
	"equipment_model",
	"equipment_serial",
	"order_date",
	"delivery_date",
	"install_date",
	"has_warranty",
	"needs_installation",
	"needs_training",
	"remarks",
	"attributes",
}

// SearchableColumns lists the columns folded into search_text.
var SearchableColumns = []string{
	"po_number",
	"vendor",
	"site",
	"equipment_name",
	"equipment_model",
	"equipment_serial",
	"remarks",
}

// SearchDocument is the lowercased text free-text queries match against. SQLite's LOWER folds
// ASCII only, so the folding must happen here.
func (o *Order) SearchDocument() string {
	return strings.ToLower(strings.Join([]string{
		o.PONumber,
		o.Vendor,
		o.Site,
		o.EquipmentName,
		o.EquipmentModel,
		o.EquipmentSerial,
		o.Remarks,
	}, "\n"))
}

// CopyEditable overwrites o's editable fields with the ones from src.
func (o *Order) CopyEditable(src *Order) {
	o.PONumber = src.PONumber
	o.Vendor = src.Vendor
	o.Site = src.Site
	o.EquipmentName = src.EquipmentName
	o.EquipmentModel = src.EquipmentModel
	o.EquipmentSerial = src.EquipmentSerial
	o.OrderDate = src.OrderDate
	o.DeliveryDate = src.DeliveryDate
	o.InstallDate = src.InstallDate
	o.HasWarranty = src.HasWarranty
	o.NeedsInstallation = src.NeedsInstallation
	o.NeedsTraining = src.NeedsTraining
	o.Remarks = src.Remarks
	o.Attributes = cloneAttributes(src.Attributes)
}

func cloneAttributes(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
