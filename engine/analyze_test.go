package engine

import (
	"path/filepath"
	"strconv"
	"testing"

	iface "PostkasseVision/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestClassifyHeight(t *testing.T) {
	assert.Equal(t, iface.KapasitetLiten, ClassifyHeight(82))
	assert.Equal(t, iface.KapasitetStandard, ClassifyHeight(100))
	assert.Equal(t, iface.KapasitetStandard, ClassifyHeight(139))
	assert.Equal(t, iface.KapasitetStor, ClassifyHeight(140))
}

func TestAnalyzeStill_Shelf(t *testing.T) {
	img := ShelfImage(0, 0)
	defer img.Close()

	boxes, err := AnalyzeStill(img)
	require.NoError(t, err)
	require.Len(t, boxes, 11)

	counts := map[string]int{}
	for i, b := range boxes {
		assert.Equal(t, "PK-"+strconv.Itoa(i+1), b.ID)
		counts[b.KapasitetKlasse]++
	}
	assert.Equal(t, 3, counts[iface.KapasitetLiten])
	assert.Equal(t, 6, counts[iface.KapasitetStandard])
	assert.Equal(t, 2, counts[iface.KapasitetStor])

	for i := 1; i < len(boxes); i++ {
		assert.LessOrEqual(t, boxes[i-1].Box.Min.Y, boxes[i].Box.Min.Y)
	}
	assert.Equal(t, iface.KapasitetLiten, boxes[0].KapasitetKlasse)
	assert.Equal(t, iface.KapasitetStor, boxes[10].KapasitetKlasse)
}

func TestAnalyzeFile_RoundTrip(t *testing.T) {
	img := ShelfImage(4, -3)
	defer img.Close()
	path := filepath.Join(t.TempDir(), "shelf.png")
	require.True(t, gocv.IMWrite(path, img))

	boxes, err := AnalyzeFile(path)
	require.NoError(t, err)
	res := Results(boxes)
	require.Len(t, res, 11)
	assert.Equal(t, "PK-1", res[0].ID)
	assert.Equal(t, iface.KapasitetLiten, res[0].KapasitetKlasse)
}

func TestAnalyze_Errors(t *testing.T) {
	_, err := AnalyzeFile(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = AnalyzeBytes([]byte("not an image"))
	assert.Error(t, err)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = AnalyzeStill(empty)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestSelfCheck(t *testing.T) {
	require.NoError(t, SelfCheck())
}
