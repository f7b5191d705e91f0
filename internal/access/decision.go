package access

import (
	"sentrygate/internal/hours"
	"sentrygate/internal/model"
)

// Decision reasons, reported alongside every grant or deny.
const (
	ReasonUnknownUser       = "unknown_user"
	ReasonWhitelisted       = "whitelisted"
	ReasonBlacklisted       = "blacklisted"
	ReasonUnrestricted      = "unrestricted"
	ReasonInvalidTimeConfig = "invalid_time_config"
	ReasonWithinHours       = "within_hours"
	ReasonOutsideHours      = "outside_hours"
)

// Policy is the immutable rule set for one monitoring session. List
// membership is keyed by user name with exact case-sensitive matching,
// which is how deployments maintain the lists against the terminal roster.
// Names can collide or be reassigned on the terminal, so this is an
// error-prone convention; see DESIGN.md before changing it.
type Policy struct {
	Whitelist map[string]struct{}
	Blacklist map[string]struct{}

	// Hours is the inclusive allowed window. nil means unrestricted.
	Hours *hours.Window

	// HoursInvalid marks a policy whose configured hours could not be
	// parsed. Every time-based decision under such a policy denies.
	HoursInvalid bool
}

// NewPolicy validates and assembles a policy once, at configuration load.
// Malformed hour bounds do not fail construction; they mark the policy so
// the engine denies with invalid_time_config instead of crashing per
// decision. The returned error reports the malformed bound for logging.
func NewPolicy(whitelist, blacklist []string, start, end string) (Policy, error) {
	p := Policy{
		Whitelist: nameSet(whitelist),
		Blacklist: nameSet(blacklist),
	}

	if start == "" && end == "" {
		return p, nil
	}

	w, err := hours.ParseWindow(start, end)
	if err != nil {
		p.HoursInvalid = true
		return p, err
	}
	p.Hours = &w
	return p, nil
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

// Decision is the outcome of one access check.
type Decision struct {
	Granted  bool
	Reason   string
	UserName string
}

// Decide applies the access policy to one authentication attempt. Pure
// function: the roster is the already-fetched snapshot, now is the current
// time of day, and no I/O happens here.
//
// Precedence, in order: unknown user denies; whitelist grants; blacklist
// denies; absent hours grant; invalid hours deny; otherwise the inclusive
// window decides.
func Decide(userID string, roster []model.User, policy Policy, now hours.TimeOfDay) Decision {
	var user *model.User
	for i := range roster {
		if roster[i].ID == userID {
			user = &roster[i]
			break
		}
	}
	if user == nil {
		return Decision{Granted: false, Reason: ReasonUnknownUser}
	}

	if len(policy.Whitelist) > 0 {
		if _, ok := policy.Whitelist[user.Name]; ok {
			return Decision{Granted: true, Reason: ReasonWhitelisted, UserName: user.Name}
		}
	}

	if len(policy.Blacklist) > 0 {
		if _, ok := policy.Blacklist[user.Name]; ok {
			return Decision{Granted: false, Reason: ReasonBlacklisted, UserName: user.Name}
		}
	}

	if policy.HoursInvalid {
		return Decision{Granted: false, Reason: ReasonInvalidTimeConfig, UserName: user.Name}
	}
	if policy.Hours == nil {
		return Decision{Granted: true, Reason: ReasonUnrestricted, UserName: user.Name}
	}

	if policy.Hours.Contains(now) {
		return Decision{Granted: true, Reason: ReasonWithinHours, UserName: user.Name}
	}
	return Decision{Granted: false, Reason: ReasonOutsideHours, UserName: user.Name}
}
