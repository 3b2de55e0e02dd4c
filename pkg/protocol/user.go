package protocol

// User is an account on the service desk.
type User struct {
	ID         int    `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	IsAdmin    bool   `json:"is_admin"`
	IsVerified bool   `json:"is_verified"`
	TelegramID *int64 `json:"telegram_id,omitempty"`
}
