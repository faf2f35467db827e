package dueldto

// ProfileView is the chat-facing shape of a user's duel profile.
type ProfileView struct {
	UserID        string
	Handle        string
	Rating        *int
	CurrentStreak int
	LongestStreak int
}
