package audit

import (
	"fmt"
	"sort"
	"time"

	"sentrygate/internal/hours"
	"sentrygate/internal/model"
)

// Check thresholds. Drift tolerance and the rapid-entry gap come from how
// the terminals behave in the field; the recent-window size balances
// per-cycle cost against overlap between cycles.
const (
	driftTolerance = 300 * time.Second
	rapidEntryGap  = 30 * time.Second
	recentWindow   = 3
)

// checkClock compares the device clock against the host clock and reports a
// drift finding when the difference exceeds the tolerance.
func checkClock(deviceTime, hostTime time.Time) []model.Finding {
	drift := deviceTime.Sub(hostTime)
	if drift < 0 {
		drift = -drift
	}
	if drift <= driftTolerance {
		return nil
	}
	return []model.Finding{{
		EventType:    model.FindingTimeDrift,
		Severity:     model.SeverityWarning,
		DriftSeconds: drift.Seconds(),
		Detail:       fmt.Sprintf("device clock drifts %.0fs from host clock", drift.Seconds()),
	}}
}

// checkRoster audits the user roster: an empty roster, more privileged
// accounts than allowed, and (on the first check of a session only) users
// with no credential set. The password sweep walks the whole roster, so it
// runs once per session rather than every cycle.
func checkRoster(users []model.User, adminCount int, firstCheck bool) []model.Finding {
	if len(users) == 0 {
		return []model.Finding{{
			EventType: model.FindingNoUsers,
			Severity:  model.SeverityInfo,
			Detail:    "terminal reports no enrolled users",
		}}
	}

	var findings []model.Finding

	admins := 0
	for _, u := range users {
		if u.IsAdmin() {
			admins++
		}
	}
	if admins > adminCount {
		findings = append(findings, model.Finding{
			EventType:     model.FindingExcessAdmins,
			Severity:      model.SeverityWarning,
			AdminCount:    admins,
			ExpectedCount: adminCount,
			Detail:        fmt.Sprintf("%d admin users enrolled, %d expected", admins, adminCount),
		})
	}

	if firstCheck {
		for _, u := range users {
			if !u.HasPassword() {
				findings = append(findings, model.Finding{
					EventType: model.FindingNoPasswordUser,
					Severity:  model.SeverityWarning,
					UserID:    u.ID,
					Detail:    fmt.Sprintf("user %s has no password set", u.ID),
				})
			}
		}
	}

	return findings
}

// checkAttendance audits the attendance log. The check window is the whole
// log on the first check of a session, afterwards only the most recent
// entries: cheap per cycle while a small tail overlaps between cycles.
// window is nil when the configured range is unusable; the time-range check
// is skipped then but the rapid-entry sweep still runs.
func checkAttendance(records []model.AttendanceRecord, window *hours.Window, firstCheck bool) []model.Finding {
	if len(records) == 0 {
		return []model.Finding{{
			EventType: model.FindingNoAttendances,
			Severity:  model.SeverityInfo,
			Detail:    "terminal reports no attendance records",
		}}
	}

	checkRange := selectCheckWindow(records, firstCheck)

	var findings []model.Finding

	if window != nil {
		for _, rec := range checkRange {
			tod := hours.FromClock(rec.Timestamp)
			if !window.Contains(tod) {
				recorded := rec.Timestamp
				findings = append(findings, model.Finding{
					EventType:  model.FindingAttendanceOutOfRange,
					Severity:   model.SeverityWarning,
					UserID:     rec.UserID,
					RecordedAt: &recorded,
					Detail: fmt.Sprintf("attendance at %s is outside the allowed range %s",
						rec.Timestamp.Format(time.RFC3339), window),
				})
			}
		}
	}

	findings = append(findings, checkRapidEntries(checkRange)...)
	return findings
}

// selectCheckWindow picks the attendance records examined in one cycle: the
// whole log on the first check, otherwise the most recent entries. The log
// is sorted newest-first before slicing rather than trusting transport
// order, so the incremental check never silently loses coverage.
func selectCheckWindow(records []model.AttendanceRecord, firstCheck bool) []model.AttendanceRecord {
	ordered := make([]model.AttendanceRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.After(ordered[j].Timestamp)
	})

	if firstCheck || len(ordered) < recentWindow {
		return ordered
	}
	return ordered[:recentWindow]
}

// checkRapidEntries flags users whose consecutive entries inside the check
// window are closer together than the rapid-entry gap: a spam/tailgating
// heuristic.
func checkRapidEntries(checkRange []model.AttendanceRecord) []model.Finding {
	byUser := make(map[string][]time.Time)
	for _, rec := range checkRange {
		byUser[rec.UserID] = append(byUser[rec.UserID], rec.Timestamp)
	}

	users := make([]string, 0, len(byUser))
	for id := range byUser {
		users = append(users, id)
	}
	sort.Strings(users)

	var findings []model.Finding
	for _, id := range users {
		times := byUser[id]
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		for i := 1; i < len(times); i++ {
			gap := times[i].Sub(times[i-1])
			if gap < rapidEntryGap {
				findings = append(findings, model.Finding{
					EventType:  model.FindingRapidRepeatEntry,
					Severity:   model.SeverityWarning,
					UserID:     id,
					GapSeconds: gap.Seconds(),
					Detail:     fmt.Sprintf("user %s re-entered after %.0fs", id, gap.Seconds()),
				})
			}
		}
	}
	return findings
}
