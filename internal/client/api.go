package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/uznikturbo/service/pkg/protocol"
)

// Login authenticates with email and password and stores the returned
// token pair.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var tr protocol.TokenResponse
	err := c.do(ctx, http.MethodPost, "/login/", map[string]string{
		"email":    email,
		"password": password,
	}, &tr)
	if err != nil {
		return err
	}
	c.store.Set(protocol.Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	})
	return nil
}

// Logout drops the local session. The backend has no logout route;
// access tokens simply age out.
func (c *Client) Logout() {
	c.store.Clear()
}

// Register creates a new account. The account starts unverified.
func (c *Client) Register(ctx context.Context, username, email, password string) (protocol.User, error) {
	var u protocol.User
	err := c.do(ctx, http.MethodPost, "/register/", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &u)
	return u, err
}

// Profile fetches the authenticated user's account.
func (c *Client) Profile(ctx context.Context) (protocol.User, error) {
	var u protocol.User
	err := c.do(ctx, http.MethodGet, "/users/me", nil, &u)
	return u, err
}

// DeleteAccount removes the authenticated user's account and clears
// the local session.
func (c *Client) DeleteAccount(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/users/me", nil, nil); err != nil {
		return err
	}
	c.store.Clear()
	return nil
}

// CreateTicket files a new ticket. imageURL may be empty.
func (c *Client) CreateTicket(ctx context.Context, title, description, imageURL string) (protocol.Ticket, error) {
	body := map[string]string{
		"title":       title,
		"description": description,
	}
	if imageURL != "" {
		body["image_url"] = imageURL
	}
	var t protocol.Ticket
	err := c.do(ctx, http.MethodPost, "/problems/", body, &t)
	return t, err
}

// ListTickets returns the tickets visible to the authenticated user:
// their own, or all tickets for an admin.
func (c *Client) ListTickets(ctx context.Context) ([]protocol.Ticket, error) {
	var tickets []protocol.Ticket
	err := c.do(ctx, http.MethodGet, "/problems/", nil, &tickets)
	return tickets, err
}

// GetTicket fetches one ticket by id.
func (c *Client) GetTicket(ctx context.Context, id int) (protocol.Ticket, error) {
	var t protocol.Ticket
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/problems/%d/", id), nil, &t)
	return t, err
}

// DeleteTicket removes a ticket.
func (c *Client) DeleteTicket(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/problems/%d/", id), nil, nil)
}

// UpdateTicketStatus sets a ticket's final status. Admin only.
func (c *Client) UpdateTicketStatus(ctx context.Context, id int, status protocol.TicketStatus) (protocol.Ticket, error) {
	var t protocol.Ticket
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/problems/%d/status", id), map[string]string{
		"status": string(status),
	}, &t)
	return t, err
}

// ServiceRecordRequest is the payload for CreateServiceRecord.
type ServiceRecordRequest struct {
	WorkDone     string   `json:"work_done"`
	UsedParts    []string `json:"used_parts,omitempty"`
	WarrantyInfo string   `json:"warranty_info"`
	TicketID     int      `json:"problem_id"`
	UserID       int      `json:"user_id"`
}

// CreateServiceRecord documents completed work on a ticket. Admin only.
func (c *Client) CreateServiceRecord(ctx context.Context, req ServiceRecordRequest) (protocol.ServiceRecord, error) {
	var rec protocol.ServiceRecord
	err := c.do(ctx, http.MethodPost, "/service-record", req, &rec)
	return rec, err
}

// ChatLog fetches the full message log for a ticket's chat. Used to
// (re)build chat state whenever a session opens or reconnects.
func (c *Client) ChatLog(ctx context.Context, ticketID int) ([]protocol.ChatMessage, error) {
	var msgs []protocol.ChatMessage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/problems/%d/chat", ticketID), nil, &msgs)
	return msgs, err
}
