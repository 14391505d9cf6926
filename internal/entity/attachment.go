package entity

import "strings"

// Slot names a fixed attachment category an order may reference.
type Slot string

const (
	SlotInvoice     Slot = "invoice"
	SlotWorkConfirm Slot = "workconfirm"
	SlotInspect     Slot = "inspect"
	SlotExtraPDF    Slot = "extra_pdf"
)

const slotSuffix = "_file"

// Slots returns every recognized slot in a stable order.
func Slots() []Slot {
	return []Slot{SlotInvoice, SlotWorkConfirm, SlotInspect, SlotExtraPDF}
}

// ParseSlot accepts either the slot name ("invoice") or its field name ("invoice_file").
func ParseSlot(raw string) (Slot, bool) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), slotSuffix)
	for _, s := range Slots() {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// Field is both the database column and the multipart form field of the slot.
func (s Slot) Field() string {
	return string(s) + slotSuffix
}

// Attachment returns the stored reference for slot, empty when unset.
func (o *Order) Attachment(s Slot) string {
	switch s {
	case SlotInvoice:
		return o.InvoiceFile
	case SlotWorkConfirm:
		return o.WorkconfirmFile
	case SlotInspect:
		return o.InspectFile
	case SlotExtraPDF:
		return o.ExtraPDFFile
	}
	return ""
}

// SetAttachment stores ref in the field backing slot.
func (o *Order) SetAttachment(s Slot, ref string) {
	switch s {
	case SlotInvoice:
		o.InvoiceFile = ref
	case SlotWorkConfirm:
		o.WorkconfirmFile = ref
	case SlotInspect:
		o.InspectFile = ref
	case SlotExtraPDF:
		o.ExtraPDFFile = ref
	}
}

// Attachments returns every non-empty reference keyed by slot.
func (o *Order) Attachments() map[Slot]string {
	refs := make(map[Slot]string, len(Slots()))
	for _, s := range Slots() {
		if ref := o.Attachment(s); ref != "" {
			refs[s] = ref
		}
	}
	return refs
}
