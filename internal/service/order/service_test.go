package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Additional-Code/procura/internal/cache"
	"github.com/Additional-Code/procura/internal/entity"
	repo "github.com/Additional-Code/procura/internal/repository/order"
	ordersvc "github.com/Additional-Code/procura/internal/service/order"
	"github.com/Additional-Code/procura/internal/testutil"
	"github.com/Additional-Code/procura/pkg/errorbank"
)

type failingPurger struct {
	calls atomic.Int32
}

func (f *failingPurger) PurgeAll(int64) error {
	f.calls.Add(1)
	return errors.New("device busy")
}

// pausedStore holds the first Set until release is closed.
type pausedStore struct {
	cache.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newPausedStore(next cache.Store) *pausedStore {
	return &pausedStore{Store: next, entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.release
	}
	return p.Store.Set(ctx, key, value, ttl)
}

// pausedGet starts a Get of id that stops right before filling the cache.
func pausedGet(t *testing.T, svc *ordersvc.Service, store *pausedStore, id int64) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Get(context.Background(), id)
	}()
	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("get never reached the cache fill")
	}
	return done
}

func create(t *testing.T, svc *ordersvc.Service, po string) *entity.Order {
	t.Helper()
	o := &entity.Order{PONumber: po, Vendor: "Acme"}
	require.NoError(t, svc.Create(context.Background(), o))
	return o
}

func TestCreateStartsAtVersionOne(t *testing.T) {
	stack := testutil.NewStack(t)

	o := &entity.Order{PONumber: "  PO-100 ", InvoiceFile: "/files/1/forged.pdf"}
	require.NoError(t, stack.Orders.Create(context.Background(), o))

	assert.Equal(t, "PO-100", o.PONumber)
	assert.Equal(t, int64(1), o.RowVersion)
	assert.Empty(t, o.InvoiceFile, "attachment references are server-managed")
	assert.True(t, o.CreatedAt.Equal(o.UpdatedAt))

	msgs := stack.Publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, string(ordersvc.EventKey(o.ID)), msgs[0].Key)
	assert.Equal(t, ordersvc.EventCreated, msgs[0].Headers["event_type"])

	var event ordersvc.Event
	require.NoError(t, json.Unmarshal(msgs[0].Value, &event))
	assert.Equal(t, o.ID, event.ID)
	assert.Equal(t, "PO-100", event.PONumber)
}

func TestCreateRequiresPONumber(t *testing.T) {
	stack := testutil.NewStack(t)

	err := stack.Orders.Create(context.Background(), &entity.Order{PONumber: "   "})
	assert.True(t, errorbank.Is(err, errorbank.KindBadRequest))
	assert.Empty(t, stack.Publisher.Messages())
}

func TestUpdateWithVersionCheck(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t)
	o := create(t, stack.Orders, "PO-100")

	// Warm the cache so a stale entry would show up below.
	_, err := stack.Orders.Get(ctx, o.ID)
	require.NoError(t, err)

	updated, err := stack.Orders.Update(ctx, o.ID, &entity.Order{PONumber: "PO-100", Vendor: "Globex"}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.RowVersion)
	assert.Equal(t, "Globex", updated.Vendor)
	assert.True(t, updated.CreatedAt.Equal(o.CreatedAt))

	_, err = stack.Orders.Update(ctx, o.ID, &entity.Order{PONumber: "PO-100", Vendor: "Initech"}, 1)
	require.Error(t, err)
	var appErr *errorbank.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errorbank.KindVersionConflict, appErr.Kind())
	assert.Equal(t, 409, appErr.StatusCode())
	assert.Equal(t, int64(2), appErr.Details()[errorbank.DetailDBVersion])

	got, err := stack.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Globex", got.Vendor)
	assert.Equal(t, int64(2), got.RowVersion)

	assert.Equal(t, []string{ordersvc.EventCreated, ordersvc.EventUpdated}, stack.Publisher.EventTypes())
}

func TestUpdateMissingOrder(t *testing.T) {
	stack := testutil.NewStack(t)

	_, err := stack.Orders.Update(context.Background(), 999, &entity.Order{PONumber: "PO-1"}, 1)
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound))
}

func TestUpdateRejectsEmptyPONumber(t *testing.T) {
	stack := testutil.NewStack(t)
	o := create(t, stack.Orders, "PO-7")

	_, err := stack.Orders.Update(context.Background(), o.ID, &entity.Order{}, 1)
	assert.True(t, errorbank.Is(err, errorbank.KindBadRequest))
}

func TestListRejectsNegativePaging(t *testing.T) {
	stack := testutil.NewStack(t)

	_, err := stack.Orders.List(context.Background(), repo.ListFilter{Limit: -1})
	assert.True(t, errorbank.Is(err, errorbank.KindBadRequest))
}

func TestDeleteRemovesRecordAndFiles(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t)
	o := create(t, stack.Orders, "PO-5")

	_, err := stack.Files.Save(o.ID, entity.SlotInvoice, "a.pdf", strings.NewReader("pdf"))
	require.NoError(t, err)

	require.NoError(t, stack.Orders.Delete(ctx, o.ID))

	_, err = stack.Orders.Get(ctx, o.ID)
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound))
	_, err = os.Stat(filepath.Join(stack.Files.Root(), strconv.FormatInt(o.ID, 10)))
	assert.True(t, os.IsNotExist(err))

	err = stack.Orders.Delete(ctx, o.ID)
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound))
	assert.Equal(t, []string{ordersvc.EventCreated, ordersvc.EventDeleted}, stack.Publisher.EventTypes())
}

func TestDeleteSucceedsWhenPurgeFails(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	purger := &failingPurger{}
	stack := testutil.NewStack(t,
		testutil.WithPurger(purger),
		testutil.WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
	)
	o := create(t, stack.Orders, "PO-6")

	require.NoError(t, stack.Orders.Delete(ctx, o.ID))

	assert.Equal(t, int32(stack.Config.Storage.PurgeRetries+1), purger.calls.Load())
	_, err := stack.Orders.Get(ctx, o.ID)
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound), "the record stays deleted")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(1), counterValue(t, rm, "procura.attachments.purge_failures"))
}

func TestApplyAttachmentsBumpsVersionOnce(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t)
	o := create(t, stack.Orders, "PO-8")

	stored, previous, err := stack.Orders.ApplyAttachments(ctx, o.ID, map[entity.Slot]string{
		entity.SlotInvoice: "/files/1/invoice_a.pdf",
		entity.SlotInspect: "/files/1/inspect_b.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.RowVersion)
	assert.Equal(t, "/files/1/invoice_a.pdf", stored.InvoiceFile)
	assert.Equal(t, "/files/1/inspect_b.pdf", stored.InspectFile)
	assert.Equal(t, map[entity.Slot]string{entity.SlotInvoice: "", entity.SlotInspect: ""}, previous)

	stored, previous, err = stack.Orders.ApplyAttachments(ctx, o.ID, map[entity.Slot]string{entity.SlotInvoice: ""})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.RowVersion)
	assert.Empty(t, stored.InvoiceFile)
	assert.Equal(t, "/files/1/inspect_b.pdf", stored.InspectFile)
	assert.Equal(t, "/files/1/invoice_a.pdf", previous[entity.SlotInvoice])

	_, _, err = stack.Orders.ApplyAttachments(ctx, 404, map[entity.Slot]string{entity.SlotInvoice: "x"})
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound))
}

func TestApplyAttachmentsConcurrentSlotsBothSurvive(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t)
	o := create(t, stack.Orders, "PO-9")

	slots := entity.Slots()
	var wg sync.WaitGroup
	errs := make([]error, len(slots))
	for i, slot := range slots {
		wg.Add(1)
		go func(i int, slot entity.Slot) {
			defer wg.Done()
			_, _, errs[i] = stack.Orders.ApplyAttachments(ctx, o.ID, map[entity.Slot]string{slot: "/files/1/" + string(slot)})
		}(i, slot)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := stack.Orders.GetPrimary(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1+len(slots)), got.RowVersion)
	for _, slot := range slots {
		assert.Equal(t, "/files/1/"+string(slot), got.Attachment(slot))
	}
}

func TestPurgeOrphanedSkipsLiveOrders(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t)
	o := create(t, stack.Orders, "PO-10")
	saved, err := stack.Files.Save(o.ID, entity.SlotInvoice, "a.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, stack.Orders.PurgeOrphaned(ctx, o.ID))
	assert.True(t, stack.Files.Exists(o.ID, saved.Name))
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return 0
}

func TestGetFillRacingDeleteIsNotServed(t *testing.T) {
	ctx := context.Background()
	var store *pausedStore
	stack := testutil.NewStack(t, testutil.WithCache(func(next cache.Store) cache.Store {
		store = newPausedStore(next)
		return store
	}))
	o := create(t, stack.Orders, "PO-20")

	done := pausedGet(t, stack.Orders, store, o.ID)
	require.NoError(t, stack.Orders.Delete(ctx, o.ID))
	close(store.release)
	<-done

	_, err := stack.Orders.Get(ctx, o.ID)
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound), "deleted order served from cache: %v", err)
}

func TestGetFillRacingUpdateIsNotServed(t *testing.T) {
	ctx := context.Background()
	var store *pausedStore
	stack := testutil.NewStack(t, testutil.WithCache(func(next cache.Store) cache.Store {
		store = newPausedStore(next)
		return store
	}))
	o := create(t, stack.Orders, "PO-21")

	done := pausedGet(t, stack.Orders, store, o.ID)
	_, err := stack.Orders.Update(ctx, o.ID, &entity.Order{PONumber: "PO-21", Vendor: "Globex"}, 1)
	require.NoError(t, err)
	close(store.release)
	<-done

	got, err := stack.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.RowVersion)
	assert.Equal(t, "Globex", got.Vendor)
}

func TestGetServesCachedOrderUntilWrite(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t)
	o := create(t, stack.Orders, "PO-22")

	first, err := stack.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	second, err := stack.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, first.RowVersion, second.RowVersion)

	_, _, err = stack.Orders.ApplyAttachments(ctx, o.ID, map[entity.Slot]string{entity.SlotInvoice: "/files/1/invoice_file_a.pdf"})
	require.NoError(t, err)

	got, err := stack.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.RowVersion)
	assert.Equal(t, "/files/1/invoice_file_a.pdf", got.InvoiceFile)
}
