package protocol

// UpdateKind distinguishes the two shapes an update fed into the reported
// cluster can take. The original implementation modeled this as a
// dynamically-typed union (StatusUpdate | str); spec.md §9 calls for a
// tagged variant instead.
type UpdateKind int

const (
	// UpdateStatus carries a StatusValue (AVAILABLE/UNAVAILABLE/LEADER).
	UpdateStatus UpdateKind = iota
	// UpdateFollowing carries an address this peer now follows.
	UpdateFollowing
)

// Update is the tagged variant consumed by a reported peer.
type Update struct {
	Kind    UpdateKind
	Status  StatusValue
	Address string
}

// StatusUpdateOf wraps a StatusValue as an Update.
func StatusUpdateOf(s StatusValue) Update {
	return Update{Kind: UpdateStatus, Status: s}
}

// FollowingUpdate wraps a followed address as an Update.
func FollowingUpdate(address string) Update {
	return Update{Kind: UpdateFollowing, Address: address}
}

// Updates derives the update sequence a status message implies: the
// primary update applies Status to Subject; when Status is Leader, a
// secondary update applies "follow Subject" to Sender. Returned as parallel
// (recipient, update) pairs matching spec.md §4.5's consume algorithm.
func Updates(m StatusMessage) (recipients []string, updates []Update) {
	recipients = append(recipients, m.Subject)
	updates = append(updates, StatusUpdateOf(m.Status))
	if m.Status == Leader {
		recipients = append(recipients, m.Sender)
		updates = append(updates, FollowingUpdate(m.Subject))
	}
	return recipients, updates
}
