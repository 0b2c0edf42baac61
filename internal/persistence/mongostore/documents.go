package mongostore

import (
	"time"

	"github.com/example/attendance-coordinator/internal/persistence"
)

type userDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d userDoc) record() persistence.User {
	return persistence.User{ID: d.ID, Name: d.Name, Email: d.Email, CreatedAt: d.CreatedAt.UTC()}
}

type identityDoc struct {
	Provider     string    `bson:"provider"`
	Subject      string    `bson:"subject"`
	UID          string    `bson:"uid"`
	Email        string    `bson:"email"`
	DisplayName  string    `bson:"display_name"`
	PasswordHash string    `bson:"password_hash,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (d identityDoc) record() persistence.Identity {
	return persistence.Identity{
		UID:          d.UID,
		Provider:     d.Provider,
		Subject:      d.Subject,
		Email:        d.Email,
		DisplayName:  d.DisplayName,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

type roomDoc struct {
	ID         string    `bson:"_id"`
	Name       string    `bson:"name"`
	CreatedBy  string    `bson:"created_by"`
	InviteCode string    `bson:"invite_code"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (d roomDoc) record() persistence.Room {
	return persistence.Room{ID: d.ID, Name: d.Name, CreatedBy: d.CreatedBy, InviteCode: d.InviteCode, CreatedAt: d.CreatedAt.UTC()}
}

type memberDoc struct {
	ID        string    `bson:"_id"`
	RoomID    string    `bson:"room_id"`
	UserID    string    `bson:"user_id"`
	Role      string    `bson:"role"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
}

func newMemberDoc(m persistence.RoomMember) memberDoc {
	return memberDoc{ID: m.ID, RoomID: m.RoomID, UserID: m.UserID, Role: string(m.Role), Status: string(m.Status), CreatedAt: m.CreatedAt}
}

func (d memberDoc) record() persistence.RoomMember {
	return persistence.RoomMember{
		ID:        d.ID,
		RoomID:    d.RoomID,
		UserID:    d.UserID,
		Role:      persistence.MemberRole(d.Role),
		Status:    persistence.MemberStatus(d.Status),
		CreatedAt: d.CreatedAt.UTC(),
	}
}

type scheduleDoc struct {
	ID        string    `bson:"_id"`
	RoomID    string    `bson:"room_id"`
	UserID    string    `bson:"user_id"`
	Date      string    `bson:"date"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d scheduleDoc) record() (persistence.OfficeSchedule, error) {
	date, err := parseDate(d.Date)
	if err != nil {
		return persistence.OfficeSchedule{}, err
	}
	return persistence.OfficeSchedule{
		ID:        d.ID,
		RoomID:    d.RoomID,
		UserID:    d.UserID,
		Date:      date,
		Status:    persistence.AttendanceStatus(d.Status),
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}

type requestDoc struct {
	ID           string     `bson:"_id"`
	RoomID       string     `bson:"room_id"`
	UserID       string     `bson:"user_id"`
	OriginalDate *string    `bson:"original_date,omitempty"`
	NewDate      *string    `bson:"new_date,omitempty"`
	Reason       string     `bson:"reason"`
	Status       string     `bson:"status"`
	CreatedAt    time.Time  `bson:"created_at"`
	ResolvedAt   *time.Time `bson:"resolved_at,omitempty"`
	ResolvedBy   *string    `bson:"resolved_by,omitempty"`
}

func newRequestDoc(r persistence.ChangeRequest) requestDoc {
	doc := requestDoc{
		ID:         r.ID,
		RoomID:     r.RoomID,
		UserID:     r.UserID,
		Reason:     r.Reason,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt,
		ResolvedAt: r.ResolvedAt,
		ResolvedBy: r.ResolvedBy,
	}
	if r.OriginalDate != nil {
		v := formatDate(*r.OriginalDate)
		doc.OriginalDate = &v
	}
	if r.NewDate != nil {
		v := formatDate(*r.NewDate)
		doc.NewDate = &v
	}
	return doc
}

func (d requestDoc) record() (persistence.ChangeRequest, error) {
	r := persistence.ChangeRequest{
		ID:         d.ID,
		RoomID:     d.RoomID,
		UserID:     d.UserID,
		Reason:     d.Reason,
		Status:     persistence.RequestStatus(d.Status),
		CreatedAt:  d.CreatedAt.UTC(),
		ResolvedBy: d.ResolvedBy,
	}
	if d.ResolvedAt != nil {
		t := d.ResolvedAt.UTC()
		r.ResolvedAt = &t
	}
	if d.OriginalDate != nil {
		t, err := parseDate(*d.OriginalDate)
		if err != nil {
			return persistence.ChangeRequest{}, err
		}
		r.OriginalDate = &t
	}
	if d.NewDate != nil {
		t, err := parseDate(*d.NewDate)
		if err != nil {
			return persistence.ChangeRequest{}, err
		}
		r.NewDate = &t
	}
	return r, nil
}

type notificationDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	RoomID    string    `bson:"room_id"`
	Type      string    `bson:"type"`
	Message   string    `bson:"message"`
	Read      bool      `bson:"read"`
	CreatedAt time.Time `bson:"created_at"`
	RelatedID *string   `bson:"related_id,omitempty"`
}

func (d notificationDoc) record() persistence.Notification {
	return persistence.Notification{
		ID:        d.ID,
		UserID:    d.UserID,
		RoomID:    d.RoomID,
		Type:      persistence.NotificationType(d.Type),
		Message:   d.Message,
		Read:      d.Read,
		CreatedAt: d.CreatedAt.UTC(),
		RelatedID: d.RelatedID,
	}
}
