package protocol

import "time"

// TicketStatus is the lifecycle state of a ticket. The backend reports
// statuses as fixed Ukrainian strings; they are treated as opaque
// identifiers on this side.
type TicketStatus string

const (
	TicketPending  TicketStatus = "В обробці"
	TicketDone     TicketStatus = "виконано"
	TicketDeclined TicketStatus = "відмовлено"
)

// Ticket is a service-desk ticket ("problem" in the backend's API).
type Ticket struct {
	ID          int            `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	ImageURL    string         `json:"image_url,omitempty"`
	Status      TicketStatus   `json:"status"`
	CreatedAt   time.Time      `json:"date_created"`
	UserID      int            `json:"user_id"`
	AdminID     *int           `json:"admin_id"`
	Response    *AdminResponse `json:"response,omitempty"`
	Record      *ServiceRecord `json:"service_record,omitempty"`
}

// Assigned reports whether an admin has taken the ticket.
func (t *Ticket) Assigned() bool { return t.AdminID != nil }

// VisibleTo reports whether the given user may see this ticket:
// admins see everything, regular users only their own tickets.
func (t *Ticket) VisibleTo(u User) bool {
	return u.IsAdmin || t.UserID == u.ID
}

// AdminResponse is the admin's answer attached to a ticket.
type AdminResponse struct {
	ID          int       `json:"id"`
	Message     string    `json:"message"`
	AdminID     int       `json:"admin_id"`
	TicketID    int       `json:"problem_id"`
	RespondedAt time.Time `json:"date_responded"`
}

// ServiceRecord documents the completed work for a ticket.
type ServiceRecord struct {
	ID           int       `json:"id"`
	WorkDone     string    `json:"work_done"`
	UsedParts    []string  `json:"used_parts,omitempty"`
	WarrantyInfo string    `json:"warranty_info"`
	TicketID     int       `json:"problem_id"`
	CompletedAt  time.Time `json:"date_completed"`
}
