package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"assignly/internal/apperr"
	"assignly/internal/audit"
	"assignly/internal/db/dbtest"
	"assignly/internal/model"
	"assignly/internal/order"
)

type chanDispatcher struct {
	jobs chan string
	err  error
}

func (d *chanDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.jobs <- jobID
	return d.err
}

func setup(t *testing.T) (*order.Service, *gorm.DB, *chanDispatcher) {
	t.Helper()
	gdb := dbtest.Open(t)
	d := &chanDispatcher{jobs: make(chan string, 4)}
	return order.NewService(gdb, audit.NewRecorder(gdb), d, 5), gdb, d
}

func submitInput(user, id string, pages int) order.SubmitInput {
	return order.SubmitInput{
		UserID:          user,
		OrderID:         id,
		AssignmentTitle: "Thermodynamics lab",
		OrderType:       model.OrderTypeAssignment,
		PageCount:       pages,
		UploadedFiles:   []model.FileRef{{Name: "brief.pdf", URL: "https://files.example.com/assignments/" + user + "/" + id + "/brief.pdf"}},
		Folder:          "assignments/" + user + "/" + id,
	}
}

func loadUser(t *testing.T, gdb *gorm.DB, id string) *model.User {
	t.Helper()
	u := &model.User{}
	require.NoError(t, gdb.First(u, "id = ?", id).Error)
	return u
}

func TestSubmitChargesCredits(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 40)

	res, err := svc.Submit(context.Background(), submitInput("s1", "o1", 12))
	require.NoError(t, err)
	assert.Equal(t, 28, res.CreditsRemaining)
	assert.Equal(t, model.OrderPending, res.Order.Status)

	u := loadUser(t, gdb, "s1")
	assert.Equal(t, 28, u.Credits())
	assert.Equal(t, 1, u.TotalOrders)
	assert.Equal(t, 12, u.TotalPages)
	assert.NotNil(t, u.LastOrderAt)

	var o model.Order
	require.NoError(t, gdb.First(&o, "user_id = ? AND id = ?", "s1", "o1").Error)
	assert.Equal(t, 12, o.PageCount)
	assert.Len(t, o.OriginalFiles, 1)
}

func TestSubmitInsufficientCredits(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 5)

	_, err := svc.Submit(context.Background(), submitInput("s1", "o1", 6))
	var insufficient *apperr.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 6, insufficient.Required)
	assert.Equal(t, 5, insufficient.Available)

	var n int64
	require.NoError(t, gdb.Model(&model.Order{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Equal(t, 5, loadUser(t, gdb, "s1").Credits())
}

func TestSubmitExactBalance(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 7)

	res, err := svc.Submit(context.Background(), submitInput("s1", "o1", 7))
	require.NoError(t, err)
	assert.Zero(t, res.CreditsRemaining)
}

func TestSubmitPageBounds(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 5000)

	for _, pages := range []int{0, -1, 1001} {
		_, err := svc.Submit(context.Background(), submitInput("s1", "bad", pages))
		assert.ErrorIs(t, err, apperr.ErrValidation, "pages=%d", pages)
	}
	_, err := svc.Submit(context.Background(), submitInput("s1", "max", 1000))
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), submitInput("s1", "min", 1))
	require.NoError(t, err)
	assert.Equal(t, 3999, loadUser(t, gdb, "s1").Credits())
}

func TestSubmitValidation(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 40)

	in := submitInput("s1", "o1", 1)
	in.AssignmentTitle = "  "
	_, err := svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	in = submitInput("s1", "o1", 1)
	in.OrderType = "essay"
	_, err = svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	in = submitInput("s1", "o1", 1)
	in.Folder = ""
	_, err = svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSubmitRejectsForeignFolder(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 40)
	ctx := context.Background()

	for _, folder := range []string{"assignments", "assignments/s1", "assignments/victim/v1", "assignments/s1/o2", "assignments/s1/o1/../o2"} {
		in := submitInput("s1", "o1", 1)
		in.Folder = folder
		_, err := svc.Submit(ctx, in)
		assert.ErrorIs(t, err, apperr.ErrValidation, folder)
	}
	assert.Equal(t, 40, loadUser(t, gdb, "s1").Credits())

	in := submitInput("s1", "o1", 1)
	in.Folder = "assignments/s1/o1/drafts"
	_, err := svc.Submit(ctx, in)
	require.NoError(t, err)
}

func TestSubmitUnknownUser(t *testing.T) {
	svc, _, _ := setup(t)
	_, err := svc.Submit(context.Background(), submitInput("ghost", "o1", 1))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSubmitDuplicateOrderID(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 40)

	_, err := svc.Submit(context.Background(), submitInput("s1", "o1", 3))
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), submitInput("s1", "o1", 3))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 37, loadUser(t, gdb, "s1").Credits())
}

func TestSubmitMigratesLegacyQuota(t *testing.T) {
	svc, gdb, _ := setup(t)
	quota := 20
	require.NoError(t, gdb.Create(&model.User{ID: "old", PageQuota: &quota}).Error)

	res, err := svc.Submit(context.Background(), submitInput("old", "o1", 5))
	require.NoError(t, err)
	assert.Equal(t, 15, res.CreditsRemaining)

	u := loadUser(t, gdb, "old")
	require.NotNil(t, u.CreditsRemaining)
	assert.Equal(t, 15, *u.CreditsRemaining)
	assert.Nil(t, u.PageQuota)
}

func TestSubmitConcurrentOnlyOneWins(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"a", "b"} {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Submit(context.Background(), submitInput("s1", id, 8))
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var insufficient *apperr.InsufficientCreditsError
		assert.True(t, errors.As(err, &insufficient), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)

	u := loadUser(t, gdb, "s1")
	assert.Equal(t, 2, u.Credits())
	assert.Equal(t, 1, u.TotalOrders)
}

func TestDeleteRestoresCreditsAndQueuesCleanup(t *testing.T) {
	svc, gdb, d := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 40)
	dbtest.SeedAdmin(t, gdb, "admin")
	ctx := context.Background()

	_, err := svc.Submit(ctx, submitInput("s1", "o1", 12))
	require.NoError(t, err)

	res, err := svc.Delete(ctx, order.DeleteInput{ActorID: "admin", OrderID: "o1", StudentID: "s1", PageCount: 12})
	require.NoError(t, err)
	assert.Equal(t, 12, res.CreditsRestored)
	assert.Equal(t, 40, res.User.CreditsRemaining)
	assert.Zero(t, res.User.TotalOrders)
	assert.Zero(t, res.User.TotalPages)
	require.NotEmpty(t, res.CleanupJobID)

	var job model.CleanupJob
	require.NoError(t, gdb.First(&job, "id = ?", res.CleanupJobID).Error)
	assert.Equal(t, model.CleanupPending, job.Status)
	assert.Equal(t, "assignments/s1/o1", job.Folder)
	assert.Zero(t, job.RetryCount)
	assert.Len(t, job.OriginalFiles, 1)

	var n int64
	require.NoError(t, gdb.Model(&model.Order{}).Count(&n).Error)
	assert.Zero(t, n)

	select {
	case id := <-d.jobs:
		assert.Equal(t, res.CleanupJobID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup job was not dispatched")
	}

	var logs []model.AuditLog
	require.NoError(t, gdb.Where("action = ?", audit.ActionOrderDeleted).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "admin", logs[0].ActorID)
}

func TestDeleteUsesStoredPageCount(t *testing.T) {
	svc, gdb, d := setup(t)
	d.err = errors.New("broker down")
	dbtest.SeedUser(t, gdb, "s1", 40)
	ctx := context.Background()

	_, err := svc.Submit(ctx, submitInput("s1", "o1", 10))
	require.NoError(t, err)

	res, err := svc.Delete(ctx, order.DeleteInput{ActorID: "admin", OrderID: "o1", StudentID: "s1", PageCount: 500})
	require.NoError(t, err)
	assert.Equal(t, 10, res.CreditsRestored)
	assert.Equal(t, 40, loadUser(t, gdb, "s1").Credits())
	<-d.jobs
}

func TestDeleteWithoutFilesSkipsCleanup(t *testing.T) {
	svc, gdb, d := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 40)
	ctx := context.Background()

	in := submitInput("s1", "o1", 4)
	in.UploadedFiles = nil
	_, err := svc.Submit(ctx, in)
	require.NoError(t, err)

	res, err := svc.Delete(ctx, order.DeleteInput{ActorID: "admin", OrderID: "o1", StudentID: "s1", PageCount: 4})
	require.NoError(t, err)
	assert.Empty(t, res.CleanupJobID)
	assert.Empty(t, d.jobs)

	var n int64
	require.NoError(t, gdb.Model(&model.CleanupJob{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestDeleteIgnoresCallerFilesAndFolder(t *testing.T) {
	svc, gdb, d := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 40)
	ctx := context.Background()

	in := submitInput("s1", "o1", 4)
	in.UploadedFiles = nil
	_, err := svc.Submit(ctx, in)
	require.NoError(t, err)

	victim := []model.FileRef{{Name: "thesis.pdf", URL: "https://files.example.com/assignments/victim/v1/thesis.pdf"}}
	_, err = svc.Delete(ctx, order.DeleteInput{OrderID: "o1", StudentID: "s1", PageCount: 4, OriginalFiles: victim, Folder: "assignments"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.Delete(ctx, order.DeleteInput{OrderID: "o1", StudentID: "s1", PageCount: 4, OriginalFiles: victim, Folder: "assignments/victim/v1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	res, err := svc.Delete(ctx, order.DeleteInput{OrderID: "o1", StudentID: "s1", PageCount: 4, OriginalFiles: victim})
	require.NoError(t, err)
	assert.Empty(t, res.CleanupJobID)
	assert.Empty(t, d.jobs)

	var n int64
	require.NoError(t, gdb.Model(&model.CleanupJob{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestDeleteFallsBackToOrderFolder(t *testing.T) {
	svc, gdb, d := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 40)
	ctx := context.Background()

	_, err := svc.Submit(ctx, submitInput("s1", "o1", 2))
	require.NoError(t, err)
	require.NoError(t, gdb.Model(&model.Order{}).Where("user_id = ? AND id = ?", "s1", "o1").Update("folder", "assignments").Error)

	res, err := svc.Delete(ctx, order.DeleteInput{OrderID: "o1", StudentID: "s1", PageCount: 2, Folder: "assignments/s1/o1"})
	require.NoError(t, err)
	require.NotEmpty(t, res.CleanupJobID)
	<-d.jobs

	var job model.CleanupJob
	require.NoError(t, gdb.First(&job, "id = ?", res.CleanupJobID).Error)
	assert.Equal(t, "assignments/s1/o1", job.Folder)
}

func TestDeleteErrors(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 40)
	ctx := context.Background()

	_, err := svc.Delete(ctx, order.DeleteInput{OrderID: "missing", StudentID: "s1"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Delete(ctx, order.DeleteInput{OrderID: "", StudentID: "s1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Delete(ctx, order.DeleteInput{OrderID: "o1", StudentID: "s1", PageCount: order.MaxDeletePages + 1})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Delete(ctx, order.DeleteInput{OrderID: "o1", StudentID: "s1", PageCount: -1})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDeleteTwiceIsNotFound(t *testing.T) {
	svc, gdb, d := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 40)
	ctx := context.Background()

	_, err := svc.Submit(ctx, submitInput("s1", "o1", 5))
	require.NoError(t, err)
	_, err = svc.Delete(ctx, order.DeleteInput{OrderID: "o1", StudentID: "s1", PageCount: 5})
	require.NoError(t, err)
	<-d.jobs

	_, err = svc.Delete(ctx, order.DeleteInput{OrderID: "o1", StudentID: "s1", PageCount: 5})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 40, loadUser(t, gdb, "s1").Credits())
}

func TestUpdateStatusStampsTimes(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 40)
	ctx := context.Background()
	_, err := svc.Submit(ctx, submitInput("s1", "o1", 2))
	require.NoError(t, err)

	o, err := svc.UpdateStatus(ctx, "admin", "s1", "o1", model.OrderWriting)
	require.NoError(t, err)
	require.NotNil(t, o.StartedAt)
	assert.Nil(t, o.CompletedAt)
	assert.Equal(t, "admin", o.UpdatedBy)

	o, err = svc.UpdateStatus(ctx, "admin", "s1", "o1", "Delivered")
	require.NoError(t, err)
	assert.Equal(t, model.OrderDelivered, o.Status)
	require.NotNil(t, o.CompletedAt)

	_, err = svc.UpdateStatus(ctx, "admin", "s1", "o1", "completed")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.UpdateStatus(ctx, "admin", "s1", "nope", model.OrderWriting)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPromoteStale(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 100)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	svc.SetClock(func() time.Time { return now.Add(-3 * time.Hour) })
	_, err := svc.Submit(ctx, submitInput("s1", "old", 1))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, submitInput("s1", "old-written", 1))
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, "admin", "s1", "old-written", model.OrderOnTheWay)
	require.NoError(t, err)

	svc.SetClock(func() time.Time { return now.Add(-time.Hour) })
	_, err = svc.Submit(ctx, submitInput("s1", "fresh", 1))
	require.NoError(t, err)

	svc.SetClock(func() time.Time { return now })
	n, err := svc.PromoteStale(ctx, 150*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var old model.Order
	require.NoError(t, gdb.First(&old, "user_id = ? AND id = ?", "s1", "old").Error)
	assert.Equal(t, model.OrderWriting, old.Status)
	assert.Equal(t, order.SystemActor, old.UpdatedBy)
	assert.NotNil(t, old.StartedAt)

	var fresh model.Order
	require.NoError(t, gdb.First(&fresh, "user_id = ? AND id = ?", "s1", "fresh").Error)
	assert.Equal(t, model.OrderPending, fresh.Status)

	var written model.Order
	require.NoError(t, gdb.First(&written, "user_id = ? AND id = ?", "s1", "old-written").Error)
	assert.Equal(t, model.OrderOnTheWay, written.Status)

	n, err = svc.PromoteStale(ctx, 150*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListOrders(t *testing.T) {
	svc, gdb, _ := setup(t)
	dbtest.SeedUser(t, gdb, "s1", 100)
	dbtest.SeedUser(t, gdb, "s2", 100)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b"} {
		svc.SetClock(func() time.Time { return base.Add(time.Duration(i) * time.Minute) })
		_, err := svc.Submit(ctx, submitInput("s1", id, 1))
		require.NoError(t, err)
	}
	_, err := svc.Submit(ctx, submitInput("s2", "c", 1))
	require.NoError(t, err)

	orders, err := svc.ListOrders(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "b", orders[0].ID)

	all, err := svc.ListByStatus(ctx, model.OrderPending, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
