package users

// CanAct decides whether a user holding commandingRole may perform a
// privileged mutation on a user holding recipientRole. Pure and total; no
// I/O. Gates delete-user, delete-account, update-role and
// update-permissions, and must run before any mutation in those flows.
func CanAct(commandingRole, recipientRole Role) bool {
	// The lowest rank may never act on any account.
	if commandingRole == RoleUser {
		return false
	}
	// An apex holder never mutates another apex holder. Under the apex
	// singleton invariant this cannot occur, but the check stays
	// load-bearing if that invariant is ever violated.
	if commandingRole.IsApex() && recipientRole.IsApex() {
		return false
	}
	if commandingRole.IsApex() || commandingRole.Rank() <= recipientRole.Rank() {
		return true
	}
	return false
}
