package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"PostkasseVision/engine"
	iface "PostkasseVision/interface"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func shelfPNG(t *testing.T) []byte {
	t.Helper()
	img := engine.ShelfImage(0, 0)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	require.NoError(t, err)
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

func post(t *testing.T, r http.Handler, field, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, field, filename, data)
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAnalyze_Shelf(t *testing.T) {
	dir := t.TempDir()
	r, err := NewAnalysisRouter(dir, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := post(t, r, "image", "shelf.png", shelfPNG(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res iface.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "shelf.png", res.Filename)
	assert.Equal(t, 11, res.Count)
	require.Len(t, res.Postkasser, 11)
	assert.Equal(t, iface.PostkasseResult{ID: "PK-1", KapasitetKlasse: iface.KapasitetLiten}, res.Postkasser[0])

	_, err = os.Stat(filepath.Join(dir, "shelf.png"))
	assert.NoError(t, err)
}

func TestAnalyze_Rejections(t *testing.T) {
	r, err := NewAnalysisRouter(t.TempDir(), func(string) ([]engine.Mailbox, error) {
		return nil, errors.New("unreadable image")
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := post(t, r, "file", "a.jpg", []byte{1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No image part"}`, rec.Body.String())

	rec = post(t, r, "image", "a.gif", []byte{1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid file type")

	rec = post(t, r, "image", "upload.jpg", []byte("not a jpeg"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"unreadable image"}`, rec.Body.String())
}

func TestAnalyze_CorruptImage(t *testing.T) {
	r, err := NewAnalysisRouter(t.TempDir(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := post(t, r, "image", "upload.jpg", []byte("not a jpeg"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	r, err := NewAnalysisRouter(t.TempDir(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"running","message":"Postkasse Vision API Ready"}`, rec.Body.String())
}

func TestSecureFilename(t *testing.T) {
	assert.Equal(t, "passwd", secureFilename("../../etc/passwd"))
	assert.Equal(t, "my_photo.JPG", secureFilename("my photo.JPG"))
	assert.Equal(t, "x.png", secureFilename(`C:\tmp\x.png`))
	assert.True(t, allowedFile("a.JPEG"))
	assert.False(t, allowedFile("jpg"))
}

func postStairwell(t *testing.T, r http.Handler, stairwell string, images map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if stairwell != "" {
		require.NoError(t, w.WriteField("oppgang", stairwell))
	}
	for name, data := range images {
		part, err := w.CreateFormFile("images", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/stairwell", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestStairwell_ConservativeAggregate(t *testing.T) {
	readings := map[string][]engine.Mailbox{
		"a.jpg": {{ID: "PK-1", KapasitetKlasse: iface.KapasitetLiten}, {ID: "PK-2", KapasitetKlasse: iface.KapasitetStor}},
		"b.jpg": {{ID: "PK-1", KapasitetKlasse: iface.KapasitetStandard}},
	}
	r, err := NewAnalysisRouter(t.TempDir(), func(path string) ([]engine.Mailbox, error) {
		for name, boxes := range readings {
			if strings.HasSuffix(path, name) {
				return boxes, nil
			}
		}
		return nil, errors.New("unexpected file " + path)
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := postStairwell(t, r, "OPP-1", map[string][]byte{"a.jpg": {1}, "b.jpg": {2}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Success    bool                      `json:"success"`
		Stairwell  string                    `json:"oppgang_id"`
		Postkasser []engine.StairwellMailbox `json:"postkasser"`
		Count      int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "OPP-1", res.Stairwell)
	require.Equal(t, 2, res.Count)
	assert.Equal(t, "PK-1", res.Postkasser[0].ID)
	assert.Equal(t, iface.KapasitetStandard, res.Postkasser[0].KapasitetKlasse)
	assert.Equal(t, 2, res.Postkasser[0].Observations)
	assert.True(t, res.Postkasser[0].Conservative)
	assert.Equal(t, iface.KapasitetStor, res.Postkasser[1].KapasitetKlasse)
}

func TestStairwell_Rejections(t *testing.T) {
	r, err := NewAnalysisRouter(t.TempDir(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := postStairwell(t, r, "", map[string][]byte{"a.jpg": {1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postStairwell(t, r, "OPP-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No image part"}`, rec.Body.String())

	rec = postStairwell(t, r, "OPP-1", map[string][]byte{"a.gif": {1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const routeBody = `{
	"pakker": [
		{"id": "PKG-001", "volum_klasse": "S", "mottaker_postkasse_id": "PK-1"},
		{"id": "PKG-002", "volum_klasse": "L", "mottaker_postkasse_id": "PK-1"},
		{"id": "PKG-003", "volum_klasse": "M", "mottaker_postkasse_id": "PK-7"}
	],
	"postkasser": [
		{"id": "PK-1", "oppgang_id": "OPP-1", "kapasitet_klasse": "STANDARD"}
	]
}`

func TestRoute(t *testing.T) {
	r, err := NewAnalysisRouter(t.TempDir(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/route", strings.NewReader(routeBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.EqualValues(t, 3, res["antall_pakker"])
	assert.EqualValues(t, 1, res["direkte_i_postkasse"])
	assert.EqualValues(t, 2, res["til_hentekontor"])

	req = httptest.NewRequest(http.MethodPost, "/route?format=text", strings.NewReader(routeBody))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "DELIVERY REPORT")
	assert.Contains(t, rec.Body.String(), "UKJENT_POSTKASSE")

	req = httptest.NewRequest(http.MethodPost, "/route", strings.NewReader(`{"pakker":[{"volum_klasse":"XL"}]}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
