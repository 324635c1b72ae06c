package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"igsync/pkg/instagram"
	"igsync/pkg/models"
	"igsync/pkg/runstate"
	"igsync/pkg/syncer"
)

func row(label string, value interface{}) string {
	return labelStyle.Render(fmt.Sprintf("%-20s", label)) + valueStyle.Render(fmt.Sprint(value))
}

// RenderReport draws a finished run
func RenderReport(r syncer.SyncReport) string {
	lines := []string{
		titleStyle.Render("SYNC REPORT"),
		"",
		row("Run", r.RunID),
		row("Result", resultStyle(r.Result()).Render(strings.ToUpper(r.Result()))),
		row("Profiles processed", r.ProfilesProcessed),
		row("Events created", r.EventsCreated),
		row("Duration", r.Duration().Round(time.Millisecond)),
	}
	if r.Halted {
		lines = append(lines, "", errorStyle.Render("Run halted: the access credential was rejected and needs rotation"))
	}
	if len(r.Errors) > 0 {
		lines = append(lines, "", labelStyle.Render("Errors"))
		for _, e := range r.Errors {
			profile := e.Profile
			if profile == "" {
				profile = "-"
			}
			lines = append(lines, fmt.Sprintf("  %s %s %s",
				errorStyle.Render(string(e.Kind)),
				valueStyle.Render("@"+strings.TrimPrefix(profile, "@")),
				dimStyle.Render(e.Message)))
		}
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// RenderState draws the persisted run state
func RenderState(st *runstate.State) string {
	lines := []string{titleStyle.Render("SYNC STATUS"), ""}
	if st.Running && st.CurrentStartedAt != nil {
		lines = append(lines, warningStyle.Render("Run in progress since "+st.CurrentStartedAt.Local().Format(time.RFC1123)))
	}
	lines = append(lines, row("Total runs", st.TotalRuns))
	if st.LastRun == nil {
		lines = append(lines, dimStyle.Render("No run recorded yet"))
		return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}
	last := st.LastRun
	lines = append(lines,
		row("Last run", last.RunID),
		row("Finished", last.FinishedAt.Local().Format(time.RFC1123)),
		row("Result", resultStyle(last.Result()).Render(strings.ToUpper(last.Result()))),
		row("Profiles processed", last.ProfilesProcessed),
		row("Events created", last.EventsCreated),
		row("Errors", len(last.Errors)),
	)
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// RenderToken draws a credential check verdict
func RenderToken(st instagram.TokenStatus) string {
	if st.Valid {
		who := st.Username
		if who == "" {
			who = st.UserID
		}
		return successStyle.Render("Token valid") + " " + valueStyle.Render("@"+who)
	}
	return errorStyle.Render("Token invalid") + " " + dimStyle.Render(st.Reason)
}

// RenderProfiles lists monitored profiles
func RenderProfiles(profiles []models.Profile) string {
	if len(profiles) == 0 {
		return dimStyle.Render("No profiles registered. Add one with `igsync profiles add <username>`.")
	}
	lines := []string{titleStyle.Render(fmt.Sprintf("PROFILES (%d)", len(profiles))), ""}
	for _, p := range profiles {
		source := p.SourceID
		if source == "" {
			source = "-"
		}
		tz := p.Timezone
		if tz == "" {
			tz = "default tz"
		}
		lines = append(lines, fmt.Sprintf("%s  %s  %s  %s",
			valueStyle.Render(fmt.Sprintf("@%-24s", p.Username)),
			labelStyle.Render(source),
			dimStyle.Render(tz),
			dimStyle.Render(p.ID)))
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
