package testutil

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roomview/internal/geometry"
	"github.com/banshee-data/roomview/internal/viewer"
)

// recordingTB captures failures instead of failing the running test.
type recordingTB struct {
	testing.TB
	failed bool
}

func (r *recordingTB) Helper()               {}
func (r *recordingTB) Errorf(string, ...any) { r.failed = true }
func (r *recordingTB) Fatalf(string, ...any) { r.failed = true }

func TestAssertStatusCode(t *testing.T) {
	rec := &recordingTB{TB: t}
	AssertStatusCode(rec, http.StatusOK, http.StatusOK)
	assert.False(t, rec.failed)

	AssertStatusCode(rec, http.StatusOK, http.StatusBadRequest)
	assert.True(t, rec.failed, "expected failure on mismatched status code")
}

func TestAssertNoError(t *testing.T) {
	rec := &recordingTB{TB: t}
	AssertNoError(rec, nil)
	assert.False(t, rec.failed)

	AssertNoError(rec, errors.New("boom"))
	assert.True(t, rec.failed, "expected failure on non-nil error")
}

func fixture() *FakeViewer {
	return NewFakeViewer(
		FakeObject{ID: 1, Name: "Kitchen", Category: "Revit Rooms", Box: geometry.NewBox(r3.Vec{}, r3.Vec{X: 4, Y: 4, Z: 3})},
		FakeObject{ID: 2, Name: "Store", Category: "Revit Rooms", Hidden: true, Box: geometry.NewBox(r3.Vec{X: 4}, r3.Vec{X: 6, Y: 4, Z: 3})},
		FakeObject{ID: 10, Name: "Table", Category: "Furniture", ExternalID: "ext-10",
			Box:        geometry.NewBox(r3.Vec{X: 1, Y: 1}, r3.Vec{X: 3, Y: 3, Z: 1}),
			Properties: []viewer.Property{{DisplayName: "Material", DisplayValue: "Oak"}, {DisplayName: "Mark", DisplayValue: "T1"}}},
	)
}

func TestFakeViewer_FindRespectsHidden(t *testing.T) {
	f := fixture()
	ctx := context.Background()

	ids, err := f.FindObjectsByCategory(ctx, "Revit Rooms", viewer.SearchOptions{SearchHidden: true})
	require.NoError(t, err)
	assert.Equal(t, []viewer.ObjectID{1, 2}, ids)

	ids, err = f.FindObjectsByCategory(ctx, "Revit Rooms", viewer.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []viewer.ObjectID{1}, ids)

	boom := errors.New("index unavailable")
	f.FailSearch("Doors", boom)
	_, err = f.FindObjectsByCategory(ctx, "Doors", viewer.SearchOptions{})
	assert.ErrorIs(t, err, boom)
}

func TestFakeViewer_PropertiesAndBounds(t *testing.T) {
	f := fixture()
	ctx := context.Background()

	props, err := f.GetProperties(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "Table", props.Name)
	assert.Equal(t, "ext-10", props.ExternalID)

	_, err = f.GetProperties(ctx, 99)
	assert.ErrorIs(t, err, viewer.ErrNotFound)

	box, err := f.GetWorldBoundingBox(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: 2, Y: 2, Z: 1.5}, box.Center())

	boom := errors.New("fragments missing")
	f.FailObject(OpBounds, 1, boom)
	_, err = f.GetWorldBoundingBox(ctx, 1)
	assert.ErrorIs(t, err, boom)
}

func TestFakeViewer_BulkGetProperties(t *testing.T) {
	f := fixture()
	ctx := context.Background()

	recs, err := f.BulkGetProperties(ctx, []viewer.ObjectID{10, 2, 99}, viewer.BulkOptions{IgnoreHidden: true, PropFilter: []string{"Mark"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, viewer.ObjectID(10), recs[0].DbID)
	assert.Empty(t, recs[0].ExternalID)
	assert.Equal(t, []viewer.Property{{DisplayName: "Mark", DisplayValue: "T1"}}, recs[0].Properties)

	recs, err = f.BulkGetProperties(ctx, []viewer.ObjectID{10}, viewer.BulkOptions{NeedsExternalID: true})
	require.NoError(t, err)
	assert.Equal(t, "ext-10", recs[0].ExternalID)
	assert.Len(t, recs[0].Properties, 2)

	f.FailObject(OpBulk, 10, errors.New("timeout"))
	_, err = f.BulkGetProperties(ctx, []viewer.ObjectID{1, 10}, viewer.BulkOptions{})
	assert.Error(t, err)
}

func TestFakeViewer_CameraAndVisibility(t *testing.T) {
	f := fixture()
	ctx := context.Background()
	target := r3.Vec{X: 2, Y: 2, Z: 1.5}

	require.NoError(t, f.SetView(ctx, r3.Vec{X: 3, Y: 3, Z: 1.7}, target))
	require.NoError(t, f.SetUpVector(ctx, r3.Vec{Z: 1}))
	require.NoError(t, f.SetFocalLength(ctx, 10))

	pos, gotTarget, up, focal := f.Camera()
	assert.Equal(t, r3.Vec{X: 3, Y: 3, Z: 1.7}, pos)
	assert.Equal(t, target, gotTarget)
	assert.Equal(t, r3.Vec{Z: 1}, up)
	assert.Equal(t, 10.0, focal)

	img, err := f.CaptureImage(ctx, 512, 512)
	require.NoError(t, err)
	assert.Contains(t, string(img), "512x512")

	sel, err := f.QueryVisibleObjects(ctx, viewer.Region{})
	require.NoError(t, err)
	// The kitchen contains the target; the table does not reach z=1.5.
	assert.Equal(t, []viewer.ObjectID{1}, viewer.FlattenSelections(sel))

	f.SetVisible(target, 10, 1)
	sel, err = f.QueryVisibleObjects(ctx, viewer.Region{})
	require.NoError(t, err)
	assert.Equal(t, []viewer.ObjectID{10, 1}, viewer.FlattenSelections(sel))

	assert.Len(t, f.CallsFor(OpCapture), 1)
	assert.Equal(t, 1, f.MaxConcurrent())
}

func TestFakeViewer_FailAtTarget(t *testing.T) {
	f := fixture()
	ctx := context.Background()
	target := r3.Vec{X: 1}
	boom := errors.New("webgl context lost")
	f.FailAtTarget(OpCapture, target, boom)

	require.NoError(t, f.SetView(ctx, r3.Vec{}, r3.Vec{X: 2}))
	_, err := f.CaptureImage(ctx, 8, 8)
	require.NoError(t, err)

	require.NoError(t, f.SetView(ctx, r3.Vec{}, target))
	_, err = f.CaptureImage(ctx, 8, 8)
	assert.ErrorIs(t, err, boom)
}

func TestFakeViewer_HoldAndContext(t *testing.T) {
	f := fixture()
	release := f.Hold(OpCapture)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.CaptureImage(ctx, 8, 8)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	_, err = f.CaptureImage(context.Background(), 8, 8)
	assert.NoError(t, err)
}

func TestFakeViewer_DetectsOverlap(t *testing.T) {
	f := fixture()
	f.Delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.CaptureImage(context.Background(), 8, 8)
		}()
	}
	wg.Wait()
	assert.Greater(t, f.MaxConcurrent(), 1)
}
