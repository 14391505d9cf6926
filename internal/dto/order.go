package dto

import (
	"encoding/json"
	"time"

	"github.com/Additional-Code/procura/internal/entity"
)

// OrderRequest is the JSON body accepted by create and update.
type OrderRequest struct {
	PONumber          string            `json:"po_number" validate:"required,max=64"`
	Vendor            string            `json:"vendor" validate:"max=255"`
	Site              string            `json:"site" validate:"max=255"`
	EquipmentName     string            `json:"equipment_name" validate:"max=255"`
	EquipmentModel    string            `json:"equipment_model" validate:"max=255"`
	EquipmentSerial   string            `json:"equipment_serial" validate:"max=255"`
	OrderDate         string            `json:"order_date" validate:"omitempty,datetime=2006-01-02"`
	DeliveryDate      string            `json:"delivery_date" validate:"omitempty,datetime=2006-01-02"`
	InstallDate       string            `json:"install_date" validate:"omitempty,datetime=2006-01-02"`
	HasWarranty       bool              `json:"has_warranty"`
	NeedsInstallation bool              `json:"needs_installation"`
	NeedsTraining     bool              `json:"needs_training"`
	Remarks           string            `json:"remarks" validate:"max=4000"`
	Attributes        map[string]string `json:"attributes" validate:"max=64,dive,keys,required,max=64,endkeys,max=1024"`
	RowVersion        *int64            `json:"row_version" validate:"omitempty,min=1"`

	// Server-managed fields clients commonly echo back from a read. Accepted and ignored.
	ID              json.RawMessage `json:"id,omitempty"`
	CreatedAt       json.RawMessage `json:"created_at,omitempty"`
	UpdatedAt       json.RawMessage `json:"updated_at,omitempty"`
	InvoiceFile     json.RawMessage `json:"invoice_file,omitempty"`
	WorkconfirmFile json.RawMessage `json:"workconfirm_file,omitempty"`
	InspectFile     json.RawMessage `json:"inspect_file,omitempty"`
	ExtraPDFFile    json.RawMessage `json:"extra_pdf_file,omitempty"`
}

// Entity maps the editable fields onto an order entity.
func (r OrderRequest) Entity() *entity.Order {
	order := &entity.Order{
		PONumber:          r.PONumber,
		Vendor:            r.Vendor,
		Site:              r.Site,
		EquipmentName:     r.EquipmentName,
		EquipmentModel:    r.EquipmentModel,
		EquipmentSerial:   r.EquipmentSerial,
		OrderDate:         r.OrderDate,
		DeliveryDate:      r.DeliveryDate,
		InstallDate:       r.InstallDate,
		HasWarranty:       r.HasWarranty,
		NeedsInstallation: r.NeedsInstallation,
		NeedsTraining:     r.NeedsTraining,
		Remarks:           r.Remarks,
	}
	if len(r.Attributes) > 0 {
		order.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			order.Attributes[k] = v
		}
	}
	return order
}

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID                int64             `json:"id"`
	PONumber          string            `json:"po_number"`
	Vendor            string            `json:"vendor"`
	Site              string            `json:"site"`
	EquipmentName     string            `json:"equipment_name"`
	EquipmentModel    string            `json:"equipment_model"`
	EquipmentSerial   string            `json:"equipment_serial"`
	OrderDate         string            `json:"order_date"`
	DeliveryDate      string            `json:"delivery_date"`
	InstallDate       string            `json:"install_date"`
	HasWarranty       bool              `json:"has_warranty"`
	NeedsInstallation bool              `json:"needs_installation"`
	NeedsTraining     bool              `json:"needs_training"`
	Remarks           string            `json:"remarks"`
	Attributes        map[string]string `json:"attributes"`
	InvoiceFile       string            `json:"invoice_file"`
	WorkconfirmFile   string            `json:"workconfirm_file"`
	InspectFile       string            `json:"inspect_file"`
	ExtraPDFFile      string            `json:"extra_pdf_file"`
	RowVersion        int64             `json:"row_version"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewOrderResponse renders an order entity.
func NewOrderResponse(order *entity.Order) OrderResponse {
	attrs := order.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return OrderResponse{
		ID:                order.ID,
		PONumber:          order.PONumber,
		Vendor:            order.Vendor,
		Site:              order.Site,
		EquipmentName:     order.EquipmentName,
		EquipmentModel:    order.EquipmentModel,
		EquipmentSerial:   order.EquipmentSerial,
		OrderDate:         order.OrderDate,
		DeliveryDate:      order.DeliveryDate,
		InstallDate:       order.InstallDate,
		HasWarranty:       order.HasWarranty,
		NeedsInstallation: order.NeedsInstallation,
		NeedsTraining:     order.NeedsTraining,
		Remarks:           order.Remarks,
		Attributes:        attrs,
		InvoiceFile:       order.InvoiceFile,
		WorkconfirmFile:   order.WorkconfirmFile,
		InspectFile:       order.InspectFile,
		ExtraPDFFile:      order.ExtraPDFFile,
		RowVersion:        order.RowVersion,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

// NewOrderResponses renders a list of orders; never nil so it encodes as [].
func NewOrderResponses(orders []*entity.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, NewOrderResponse(o))
	}
	return out
}

// DeleteResponse acknowledges a deletion.
type DeleteResponse struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

// UploadResponse reports the outcome of an attachment upload. Files and RowVersion are omitted
// when nothing was uploaded.
type UploadResponse struct {
	Status     string            `json:"status"`
	Files      map[string]string `json:"files,omitempty"`
	RowVersion int64             `json:"row_version,omitempty"`
}
