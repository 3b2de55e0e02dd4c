package notify

import (
	"testing"

	"github.com/uznikturbo/service/internal/collection"
	"github.com/uznikturbo/service/pkg/protocol"
)

func newTestRouter(viewer protocol.User) (*Router, *collection.Tickets) {
	tickets := collection.New()
	r := New(Config{
		WSBaseURL: "ws://unused",
		Viewer:    func() (protocol.User, bool) { return viewer, true },
		Tickets:   tickets,
	})
	return r, tickets
}

func TestHandleFrame_NewTicketInserted(t *testing.T) {
	r, tickets := newTestRouter(protocol.User{ID: 3})

	r.handleFrame([]byte(`{"type":"new_ticket","data":{"id":7,"title":"Broken screen","user_id":3}}`))

	got, ok := tickets.Get(7)
	if !ok {
		t.Fatal("expected ticket 7 to be inserted")
	}
	if got.Title != "Broken screen" {
		t.Errorf("unexpected ticket %+v", got)
	}
}

func TestHandleFrame_DuplicateNewTicketIgnored(t *testing.T) {
	// A pushed creation racing a local optimistic create must not
	// regress the confirmed state.
	r, tickets := newTestRouter(protocol.User{ID: 3})
	tickets.Upsert(protocol.Ticket{ID: 7, Title: "local copy", UserID: 3})

	r.handleFrame([]byte(`{"type":"new_ticket","data":{"id":7,"title":"pushed copy","user_id":3}}`))

	got, _ := tickets.Get(7)
	if got.Title != "local copy" {
		t.Errorf("duplicate creation overwrote state: %q", got.Title)
	}
}

func TestHandleFrame_UpdateAppliedWhenPresent(t *testing.T) {
	r, tickets := newTestRouter(protocol.User{ID: 3})
	tickets.Upsert(protocol.Ticket{ID: 7, Status: protocol.TicketPending, UserID: 3})

	r.handleFrame([]byte(`{"type":"update_ticket","data":{"id":7,"status":"виконано","user_id":3}}`))

	got, _ := tickets.Get(7)
	if got.Status != protocol.TicketDone {
		t.Errorf("expected update to apply, got %q", got.Status)
	}
}

func TestHandleFrame_UpdateForUnknownIDIgnored(t *testing.T) {
	r, tickets := newTestRouter(protocol.User{ID: 3})

	r.handleFrame([]byte(`{"type":"update_ticket","data":{"id":99,"status":"виконано","user_id":3}}`))

	if tickets.Len() != 0 {
		t.Error("update for an absent ticket must not create it")
	}
}

func TestHandleFrame_InvisibleTicketDropped(t *testing.T) {
	// Non-admins only see their own tickets; a leaked event for someone
	// else's ticket must not land in the collection.
	r, tickets := newTestRouter(protocol.User{ID: 3})

	r.handleFrame([]byte(`{"type":"new_ticket","data":{"id":7,"user_id":99}}`))

	if tickets.Len() != 0 {
		t.Error("expected invisible ticket to be dropped")
	}
}

func TestHandleFrame_AdminSeesAllTickets(t *testing.T) {
	r, tickets := newTestRouter(protocol.User{ID: 1, IsAdmin: true})

	r.handleFrame([]byte(`{"type":"new_ticket","data":{"id":7,"user_id":99}}`))

	if _, ok := tickets.Get(7); !ok {
		t.Error("expected admin to receive any ticket")
	}
}

func TestHandleFrame_UnknownEventTypeIgnored(t *testing.T) {
	r, tickets := newTestRouter(protocol.User{ID: 3})

	r.handleFrame([]byte(`{"type":"ticket_archived","data":{"id":7,"user_id":3}}`))

	if tickets.Len() != 0 {
		t.Error("unknown event types must be ignored")
	}
}

func TestHandleFrame_MalformedFrameDropped(t *testing.T) {
	r, tickets := newTestRouter(protocol.User{ID: 3})

	r.handleFrame([]byte(`{"type":"new_ticket","data":"not an object"}`))

	if tickets.Len() != 0 {
		t.Error("malformed frame must be dropped")
	}
}

func TestHandleFrame_NoViewerDropped(t *testing.T) {
	tickets := collection.New()
	r := New(Config{
		WSBaseURL: "ws://unused",
		Viewer:    func() (protocol.User, bool) { return protocol.User{}, false },
		Tickets:   tickets,
	})

	r.handleFrame([]byte(`{"type":"new_ticket","data":{"id":7,"user_id":3}}`))

	if tickets.Len() != 0 {
		t.Error("events without an authenticated viewer must be dropped")
	}
}
