package domain

// Streak summarizes a user's consecutive solve days.
type Streak struct {
	Current int
	Longest int
}
