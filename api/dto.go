// dto.go - Request/response shapes for the HTTP API.
//
// DTOs keep wire formats decoupled from the domain entities: timestamps
// are RFC3339 strings, optional fields are pointers, and internal-only
// fields never leak.
package api

// =============================================================================
// REQUEST PAYLOADS
// =============================================================================

type CreateUserRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Balance int    `json:"balance"`
}

type CreateBookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
}

type DisputeRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// RESPONSE DTOS
// =============================================================================

type UserDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Balance   int    `json:"balance"`
	CreatedAt string `json:"created_at"`
}

type BookDTO struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Author         string `json:"author,omitempty"`
	OwnerID        string `json:"owner_id"`
	Available      bool   `json:"available"`
	ComputedPoints *int   `json:"computed_points,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type ExchangeDTO struct {
	ID            string  `json:"id"`
	BookID        string  `json:"book_id"`
	FromUserID    string  `json:"from_user_id"`
	ToUserID      string  `json:"to_user_id"`
	PointsUsed    int     `json:"points_used"`
	Status        string  `json:"status"`
	DisputeReason string  `json:"dispute_reason,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}

type BalanceDTO struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

// ErrorDTO is the uniform error envelope. Reason carries the admission
// taxonomy code when one applies, so the frontend can render a specific
// message ("insufficient points" vs "book no longer available").
type ErrorDTO struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
