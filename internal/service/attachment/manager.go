// Package attachment stores order files and keeps the order's references to them consistent.
package attachment

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"os"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/procura/internal/entity"
	ordersvc "github.com/Additional-Code/procura/internal/service/order"
	"github.com/Additional-Code/procura/internal/storage/filestore"
	"github.com/Additional-Code/procura/pkg/errorbank"
)

var managerTracer = otel.Tracer("github.com/Additional-Code/procura/service/attachment")

// ErrNothingToUpload is returned when a request carries no file for any recognized slot.
var ErrNothingToUpload = errors.New("no files to upload")

const lockStripes = 64

// Upload is one file destined for a slot.
type Upload struct {
	Slot     entity.Slot
	Filename string
	Content  io.Reader
}

// Result reports the stored order and the references written, keyed by field name.
type Result struct {
	Order *entity.Order
	Files map[string]string
}

// Params defines dependencies for constructing Manager.
type Params struct {
	fx.In

	Orders *ordersvc.Service
	Files  *filestore.Store
	Logger *zap.Logger
}

// Manager writes attachment files and commits their references on the order.
type Manager struct {
	orders *ordersvc.Service
	files  *filestore.Store
	logger *zap.Logger
	locks  [lockStripes]sync.Mutex
}

// NewManager wires a Manager.
func NewManager(p Params) *Manager {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{orders: p.Orders, files: p.Files, logger: logger}
}

// Upload stores every file and then records all references in one version bump. Files land on
// disk before the record points at them. When the record update fails the files written here
// that nothing references are removed; superseded files of the touched slots are removed after
// the update commits.
func (m *Manager) Upload(ctx context.Context, orderID int64, uploads []Upload) (*Result, error) {
	ctx, span := managerTracer.Start(ctx, "AttachmentManager.Upload", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int("attachment.count", len(uploads)),
	))
	defer span.End()

	if err := m.ensureOrder(ctx, orderID); err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, ErrNothingToUpload
	}

	slots := make([]entity.Slot, 0, len(uploads))
	seen := make(map[entity.Slot]bool, len(uploads))
	for _, u := range uploads {
		slot, ok := entity.ParseSlot(string(u.Slot))
		if !ok {
			return nil, errorbank.BadRequest("unknown attachment slot", errorbank.WithDetail("slot", string(u.Slot)))
		}
		if seen[slot] {
			return nil, errorbank.BadRequest("attachment slot given more than once", errorbank.WithDetail("slot", string(slot)))
		}
		seen[slot] = true
		slots = append(slots, slot)
	}

	unlock := m.lock(orderID, slots...)
	defer unlock()

	saved := make([]*filestore.Saved, 0, len(uploads))
	refs := make(map[entity.Slot]string, len(uploads))
	for i, u := range uploads {
		s, err := m.files.Save(orderID, slots[i], u.Filename, u.Content)
		if err != nil {
			span.RecordError(err)
			m.discard(ctx, orderID, saved)
			return nil, errorbank.Internal("failed to store attachment", errorbank.WithCause(err))
		}
		saved = append(saved, s)
		refs[slots[i]] = s.Ref
	}

	order, previous, err := m.orders.ApplyAttachments(ctx, orderID, refs)
	if err != nil {
		m.discard(ctx, orderID, saved)
		return nil, err
	}

	for slot, prev := range previous {
		if prev != "" && prev != refs[slot] {
			m.removeRef(orderID, prev)
		}
	}

	files := make(map[string]string, len(refs))
	for slot, ref := range refs {
		files[slot.Field()] = ref
	}
	return &Result{Order: order, Files: files}, nil
}

// Open returns a stored file of orderID by its stored name.
func (m *Manager) Open(_ context.Context, orderID int64, name string) (*os.File, os.FileInfo, error) {
	f, info, err := m.files.Open(orderID, name)
	if errors.Is(err, filestore.ErrNotFound) {
		return nil, nil, errorbank.NotFound("file not found")
	}
	if err != nil {
		return nil, nil, errorbank.Internal("failed to open attachment", errorbank.WithCause(err))
	}
	return f, info, nil
}

// OpenSlot returns the file currently referenced by slot.
func (m *Manager) OpenSlot(ctx context.Context, orderID int64, slot entity.Slot) (*os.File, os.FileInfo, error) {
	order, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	ref := order.Attachment(slot)
	if ref == "" {
		return nil, nil, errorbank.NotFound("no attachment in slot", errorbank.WithDetail("slot", string(slot)))
	}
	refID, name, ok := m.files.ParseRef(ref)
	if !ok || refID != orderID {
		return nil, nil, errorbank.NotFound("file not found")
	}
	return m.Open(ctx, orderID, name)
}

// Detach clears slot on the order and then removes the file it referenced.
func (m *Manager) Detach(ctx context.Context, orderID int64, slot entity.Slot) (*entity.Order, error) {
	ctx, span := managerTracer.Start(ctx, "AttachmentManager.Detach", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("attachment.slot", string(slot)),
	))
	defer span.End()

	unlock := m.lock(orderID, slot)
	defer unlock()

	current, err := m.orders.GetPrimary(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Attachment(slot) == "" {
		return nil, errorbank.NotFound("no attachment in slot", errorbank.WithDetail("slot", string(slot)))
	}

	order, previous, err := m.orders.ApplyAttachments(ctx, orderID, map[entity.Slot]string{slot: ""})
	if err != nil {
		return nil, err
	}
	if prev := previous[slot]; prev != "" {
		m.removeRef(orderID, prev)
	}
	return order, nil
}

func (m *Manager) ensureOrder(ctx context.Context, orderID int64) error {
	exists, err := m.orders.Exists(ctx, orderID)
	if err != nil {
		return err
	}
	if !exists {
		return errorbank.NotFound("order not found")
	}
	return nil
}

// discard removes files written by a failed upload unless the order still references them.
// When the order is gone its whole directory goes.
func (m *Manager) discard(ctx context.Context, orderID int64, saved []*filestore.Saved) {
	if len(saved) == 0 {
		return
	}
	current, err := m.orders.GetPrimary(ctx, orderID)
	if errorbank.Is(err, errorbank.KindNotFound) {
		if err := m.files.PurgeAll(orderID); err != nil {
			m.logger.Warn("purge after failed upload", zap.Int64("id", orderID), zap.Error(err))
		}
		return
	}
	if err != nil {
		m.logger.Warn("cannot load order to discard upload; leaving files for sweep", zap.Int64("id", orderID), zap.Error(err))
		return
	}

	referenced := referencedNames(m.files, current)
	for _, s := range saved {
		if referenced[s.Name] {
			continue
		}
		if err := m.files.Remove(orderID, s.Name); err != nil {
			m.logger.Warn("remove unreferenced upload", zap.Int64("id", orderID), zap.String("file", s.Name), zap.Error(err))
		}
	}
}

func (m *Manager) removeRef(orderID int64, ref string) {
	refID, name, ok := m.files.ParseRef(ref)
	if !ok || refID != orderID {
		m.logger.Warn("ignoring foreign attachment reference", zap.Int64("id", orderID), zap.String("ref", ref))
		return
	}
	if err := m.files.Remove(orderID, name); err != nil {
		m.logger.Warn("remove superseded attachment", zap.Int64("id", orderID), zap.String("file", name), zap.Error(err))
	}
}

// lock serializes work on the same (order, slot) pairs within this process.
func (m *Manager) lock(orderID int64, slots ...entity.Slot) func() {
	idx := make([]int, 0, len(slots))
	taken := make(map[int]bool, len(slots))
	for _, slot := range slots {
		h := fnv.New32a()
		var b [8]byte
		for i := range b {
			b[i] = byte(orderID >> (8 * i))
		}
		h.Write(b[:])
		h.Write([]byte(slot))
		i := int(h.Sum32() % lockStripes)
		if !taken[i] {
			taken[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		m.locks[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			m.locks[idx[j]].Unlock()
		}
	}
}

func referencedNames(files *filestore.Store, order *entity.Order) map[string]bool {
	names := make(map[string]bool, len(entity.Slots()))
	for _, ref := range order.Attachments() {
		if _, name, ok := files.ParseRef(ref); ok {
			names[name] = true
		}
	}
	return names
}
