package attachment_test

import (
	"bytes"
	"net/http"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/procura/internal/entity"
	"github.com/Additional-Code/procura/internal/testutil"
)

func setup(t *testing.T) (*testutil.Stack, *echo.Echo, string) {
	t.Helper()
	stack := testutil.NewStack(t)
	e := testutil.NewRouter(t, stack)
	rec := testutil.DoJSON(t, e, http.MethodPost, "/orders", map[string]any{"po_number": "PO-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := int64(testutil.DecodeBody(t, rec)["id"].(float64))
	return stack, e, "/orders/" + strconv.FormatInt(id, 10)
}

func TestUploadWithoutRecognizedFiles(t *testing.T) {
	_, e, path := setup(t)

	body, contentType := testutil.Multipart(t, testutil.FilePart{Field: "contract_file", Filename: "c.pdf", Content: "x"})
	rec := testutil.Do(e, http.MethodPost, path+"/files", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"no_files"}`, rec.Body.String())

	rec = testutil.Do(e, http.MethodPost, path+"/files", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"no_files"}`, rec.Body.String())

	rec = testutil.Do(e, http.MethodGet, path, nil, "")
	assert.EqualValues(t, 1, testutil.DecodeBody(t, rec)["row_version"], "no mutation")
}

func TestUploadIgnoresEmptyFiles(t *testing.T) {
	_, e, path := setup(t)

	body, contentType := testutil.Multipart(t, testutil.FilePart{Field: "invoice_file", Filename: "empty.pdf"})
	rec := testutil.Do(e, http.MethodPost, path+"/files", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"no_files"}`, rec.Body.String())

	body, contentType = testutil.Multipart(t,
		testutil.FilePart{Field: "invoice_file", Filename: "empty.pdf"},
		testutil.FilePart{Field: "inspect_file", Filename: "ok.pdf", Content: "report"},
	)
	rec = testutil.Do(e, http.MethodPost, path+"/files", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := testutil.DecodeBody(t, rec)
	assert.EqualValues(t, 2, res["row_version"])
	files := res["files"].(map[string]any)
	assert.Len(t, files, 1)
	assert.Contains(t, files, "inspect_file")

	body, contentType = testutil.Multipart(t, testutil.FilePart{Field: "file", Filename: "empty.pdf"})
	rec = testutil.Do(e, http.MethodPut, path+"/files/invoice", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = testutil.Do(e, http.MethodGet, path, nil, "")
	order := testutil.DecodeBody(t, rec)
	assert.EqualValues(t, 2, order["row_version"])
	assert.Equal(t, "", order["invoice_file"])
}

func TestUploadToMissingOrder(t *testing.T) {
	_, e, _ := setup(t)

	body, contentType := testutil.Multipart(t, testutil.FilePart{Field: "invoice_file", Filename: "a.pdf", Content: "x"})
	rec := testutil.Do(e, http.MethodPost, "/orders/999/files", body, contentType)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = testutil.Do(e, http.MethodPost, "/orders/999/files", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadSeveralSlotsAtOnce(t *testing.T) {
	_, e, path := setup(t)

	body, contentType := testutil.Multipart(t,
		testutil.FilePart{Field: "invoice_file", Filename: "inv.pdf", Content: "i"},
		testutil.FilePart{Field: "workconfirm_file", Filename: "wc.pdf", Content: "w"},
		testutil.FilePart{Field: "notes", Filename: "n.txt", Content: "ignored"},
	)
	rec := testutil.Do(e, http.MethodPost, path+"/files", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := testutil.DecodeBody(t, rec)
	assert.EqualValues(t, 2, res["row_version"])
	files := res["files"].(map[string]any)
	assert.Len(t, files, 2)
	assert.Contains(t, files, "invoice_file")
	assert.Contains(t, files, "workconfirm_file")
}

func TestSingleSlotEndpoints(t *testing.T) {
	_, e, path := setup(t)

	body, contentType := testutil.Multipart(t, testutil.FilePart{Field: "file", Filename: "report 1.pdf", Content: "inspection"})
	rec := testutil.Do(e, http.MethodPut, path+"/files/inspect", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := testutil.DecodeBody(t, rec)
	ref := res["files"].(map[string]any)["inspect_file"].(string)
	assert.Contains(t, ref, "/inspect_report_1.pdf")

	rec = testutil.Do(e, http.MethodGet, path+"/files/inspect_file", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "inspection", rec.Body.String())

	rec = testutil.Do(e, http.MethodDelete, path+"/files/inspect", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := testutil.DecodeBody(t, rec)
	assert.Equal(t, "", order["inspect_file"])
	assert.EqualValues(t, 3, order["row_version"])

	assert.Equal(t, http.StatusNotFound, testutil.Do(e, http.MethodGet, path+"/files/inspect", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, testutil.Do(e, http.MethodGet, ref, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, testutil.Do(e, http.MethodDelete, path+"/files/inspect", nil, "").Code)
}

func TestSingleSlotValidation(t *testing.T) {
	_, e, path := setup(t)

	body, contentType := testutil.Multipart(t, testutil.FilePart{Field: "file", Filename: "a.pdf", Content: "x"})
	rec := testutil.Do(e, http.MethodPut, path+"/files/contract", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "contract", testutil.DecodeBody(t, rec)["slot"])

	body, contentType = testutil.Multipart(t, testutil.FilePart{Field: "other", Filename: "a.pdf", Content: "x"})
	rec = testutil.Do(e, http.MethodPut, path+"/files/invoice", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, testutil.Do(e, http.MethodGet, path+"/files/contract", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, testutil.Do(e, http.MethodDelete, path+"/files/contract", nil, "").Code)
}

func TestServeOnlyStoredFiles(t *testing.T) {
	stack, e, path := setup(t)
	id := path[len("/orders/"):]

	saved, err := stack.Files.Save(mustParse(t, id), entity.SlotExtraPDF, "x.pdf", bytes.NewBufferString("on disk"))
	require.NoError(t, err)

	rec := testutil.Do(e, http.MethodGet, saved.Ref, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, "served from disk whatever the record says")
	assert.Equal(t, "on disk", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, testutil.Do(e, http.MethodGet, "/files/"+id+"/missing.pdf", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, testutil.Do(e, http.MethodGet, "/files/"+id+"/..%2F..%2Forders.db", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, testutil.Do(e, http.MethodGet, "/files/abc/x.pdf", nil, "").Code)
}

func mustParse(t *testing.T, raw string) int64 {
	t.Helper()
	id, err := strconv.ParseInt(raw, 10, 64)
	require.NoError(t, err)
	return id
}
