package domain

// UserID identifies whoever issued a command. It is the registry key.
type UserID string

func (id UserID) String() string {
	return string(id)
}
