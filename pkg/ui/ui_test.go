package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	errs "igsync/pkg/errors"
	"igsync/pkg/instagram"
	"igsync/pkg/models"
	"igsync/pkg/runstate"
	"igsync/pkg/syncer"
)

type recordingSender struct {
	titles []string
}

func (r *recordingSender) Send(title, _ string) error {
	r.titles = append(r.titles, title)
	return errors.New("no display")
}

func sampleReport() syncer.SyncReport {
	start := time.Date(2025, 11, 3, 6, 0, 0, 0, time.UTC)
	return syncer.SyncReport{
		RunID:             "run-42",
		StartedAt:         start,
		FinishedAt:        start.Add(90 * time.Second),
		ProfilesProcessed: 2,
		EventsCreated:     1,
		Errors: []syncer.ReportError{
			{Profile: "bar_z", Kind: errs.KindExhausted, Message: "all strategies exhausted for bar_z"},
		},
	}
}

func TestRenderReport(t *testing.T) {
	out := RenderReport(sampleReport())
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "PARTIAL")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "EXHAUSTED")
	assert.Contains(t, out, "@bar_z")
	assert.NotContains(t, out, "halted")

	halted := syncer.SyncReport{
		RunID:  "run-43",
		Halted: true,
		Errors: []syncer.ReportError{{Profile: "bar_x", Kind: errs.KindAuthInvalid, Message: "Invalid OAuth access token"}},
	}
	out = RenderReport(halted)
	assert.Contains(t, out, "ABORTED")
	assert.Contains(t, out, "needs rotation")
}

func TestRenderState(t *testing.T) {
	out := RenderState(&runstate.State{})
	assert.Contains(t, out, "No run recorded yet")

	r := sampleReport()
	started := time.Now()
	out = RenderState(&runstate.State{TotalRuns: 7, LastRun: &r, Running: true, CurrentStartedAt: &started})
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "Run in progress")
}

func TestRenderToken(t *testing.T) {
	assert.Contains(t, RenderToken(instagram.TokenStatus{Valid: true, Username: "bar_y"}), "@bar_y")
	out := RenderToken(instagram.TokenStatus{Reason: "Error validating access token"})
	assert.Contains(t, out, "Token invalid")
	assert.Contains(t, out, "Error validating access token")
}

func TestRenderProfiles(t *testing.T) {
	assert.Contains(t, RenderProfiles(nil), "igsync profiles add")
	out := RenderProfiles([]models.Profile{{ID: "p1", Username: "bar_y", SourceID: "1784"}})
	assert.Contains(t, out, "PROFILES (1)")
	assert.Contains(t, out, "@bar_y")
	assert.Contains(t, out, "1784")
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Info("Config", "/tmp/x.yaml")
	p.Error("Sync failed", errors.New("boom"))
	p.Success("done")
	assert.Contains(t, buf.String(), "/tmp/x.yaml")
	assert.Contains(t, buf.String(), "Sync failed: boom")
	assert.Contains(t, buf.String(), "done")
}

func TestNotifyRun(t *testing.T) {
	var buf bytes.Buffer
	sender := &recordingSender{}
	n := NewNotifierWithSender(NewPrinter(&buf), sender)

	assert.False(t, n.NotifyRun(syncer.SyncReport{}))
	assert.Empty(t, sender.titles)

	assert.True(t, n.NotifyRun(sampleReport()))
	assert.Contains(t, buf.String(), "@bar_z")

	assert.True(t, n.NotifyRun(syncer.SyncReport{Halted: true, Errors: []syncer.ReportError{{Profile: "bar_x"}}}))
	assert.Equal(t, []string{"igsync: 1 error(s)", "igsync: credential rejected"}, sender.titles)
}
