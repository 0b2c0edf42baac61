package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/attendance-coordinator/internal/application"
	"github.com/example/attendance-coordinator/internal/persistence"
)

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func datePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := application.FormatDate(*t)
	return &v
}

// parseDatePtr parses an optional YYYY-MM-DD value. Empty input yields nil.
func parseDatePtr(value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	day, err := application.ParseDate(*value)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

func parseDates(values []string) ([]time.Time, error) {
	days := make([]time.Time, 0, len(values))
	for _, v := range values {
		day, err := application.ParseDate(v)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, nil
}

type userDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

func toUserDTO(user application.User) userDTO {
	return userDTO{ID: user.ID, Name: user.Name, Email: user.Email, CreatedAt: millis(user.CreatedAt)}
}

func toUserDTOPtr(user *application.User) *userDTO {
	if user == nil {
		return nil
	}
	dto := toUserDTO(*user)
	return &dto
}

type roomDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CreatedBy  string `json:"created_by"`
	InviteCode string `json:"invite_code,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

func toRoomDTO(room application.Room, withInviteCode bool) roomDTO {
	dto := roomDTO{ID: room.ID, Name: room.Name, CreatedBy: room.CreatedBy, CreatedAt: millis(room.CreatedAt)}
	if withInviteCode {
		dto.InviteCode = room.InviteCode
	}
	return dto
}

func toRoomDTOPtr(room *application.Room) *roomDTO {
	if room == nil {
		return nil
	}
	dto := toRoomDTO(*room, false)
	return &dto
}

type memberDTO struct {
	ID        string   `json:"id"`
	RoomID    string   `json:"room_id"`
	UserID    string   `json:"user_id"`
	Role      string   `json:"role"`
	Status    string   `json:"status"`
	CreatedAt int64    `json:"created_at"`
	User      *userDTO `json:"user,omitempty"`
}

func toMemberDTO(m application.RoomMember) memberDTO {
	return memberDTO{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		Status:    string(m.Status),
		CreatedAt: millis(m.CreatedAt),
	}
}

func toMemberDTOs(members []application.MemberWithUser) []memberDTO {
	out := make([]memberDTO, 0, len(members))
	for _, m := range members {
		dto := toMemberDTO(m.Member)
		user := toUserDTO(m.User)
		dto.User = &user
		out = append(out, dto)
	}
	return out
}

type roomMembershipDTO struct {
	Room       roomDTO   `json:"room"`
	Membership memberDTO `json:"membership"`
}

func isActiveAdmin(m application.RoomMember) bool {
	return m.Role == persistence.RoleAdmin && m.Status == persistence.MemberActive
}

func toRoomMembershipDTOs(rooms []application.RoomWithMembership) []roomMembershipDTO {
	out := make([]roomMembershipDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomMembershipDTO{
			Room:       toRoomDTO(r.Room, isActiveAdmin(r.Membership)),
			Membership: toMemberDTO(r.Membership),
		})
	}
	return out
}

type scheduleDTO struct {
	ID        string   `json:"id"`
	RoomID    string   `json:"room_id"`
	UserID    string   `json:"user_id"`
	Date      string   `json:"date"`
	Status    string   `json:"status"`
	CreatedAt int64    `json:"created_at"`
	User      *userDTO `json:"user,omitempty"`
	Room      *roomDTO `json:"room,omitempty"`
}

func toScheduleDTO(s application.OfficeSchedule) scheduleDTO {
	return scheduleDTO{
		ID:        s.ID,
		RoomID:    s.RoomID,
		UserID:    s.UserID,
		Date:      application.FormatDate(s.Date),
		Status:    string(s.Status),
		CreatedAt: millis(s.CreatedAt),
	}
}

func toScheduleWithUserDTOs(entries []application.ScheduleWithUser) []scheduleDTO {
	out := make([]scheduleDTO, 0, len(entries))
	for _, e := range entries {
		dto := toScheduleDTO(e.Schedule)
		dto.User = toUserDTOPtr(e.User)
		out = append(out, dto)
	}
	return out
}

func toScheduleWithRoomDTOs(entries []application.ScheduleWithRoom) []scheduleDTO {
	out := make([]scheduleDTO, 0, len(entries))
	for _, e := range entries {
		dto := toScheduleDTO(e.Schedule)
		dto.Room = toRoomDTOPtr(e.Room)
		out = append(out, dto)
	}
	return out
}

type changeRequestDTO struct {
	ID           string   `json:"id"`
	RoomID       string   `json:"room_id"`
	UserID       string   `json:"user_id"`
	OriginalDate *string  `json:"original_date"`
	NewDate      *string  `json:"new_date"`
	Reason       string   `json:"reason"`
	Status       string   `json:"status"`
	CreatedAt    int64    `json:"created_at"`
	ResolvedAt   *int64   `json:"resolved_at,omitempty"`
	ResolvedBy   *string  `json:"resolved_by,omitempty"`
	User         *userDTO `json:"user,omitempty"`
	Room         *roomDTO `json:"room,omitempty"`
}

func toChangeRequestDTO(r application.ChangeRequest) changeRequestDTO {
	return changeRequestDTO{
		ID:           r.ID,
		RoomID:       r.RoomID,
		UserID:       r.UserID,
		OriginalDate: datePtr(r.OriginalDate),
		NewDate:      datePtr(r.NewDate),
		Reason:       r.Reason,
		Status:       string(r.Status),
		CreatedAt:    millis(r.CreatedAt),
		ResolvedAt:   millisPtr(r.ResolvedAt),
		ResolvedBy:   r.ResolvedBy,
	}
}

func toChangeRequestDetailDTOs(details []application.ChangeRequestDetail) []changeRequestDTO {
	out := make([]changeRequestDTO, 0, len(details))
	for _, d := range details {
		dto := toChangeRequestDTO(d.Request)
		dto.User = toUserDTOPtr(d.User)
		dto.Room = toRoomDTOPtr(d.Room)
		out = append(out, dto)
	}
	return out
}

type notificationDTO struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	RoomID    string  `json:"room_id,omitempty"`
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Read      bool    `json:"read"`
	CreatedAt int64   `json:"created_at"`
	RelatedID *string `json:"related_id,omitempty"`
}

func toNotificationDTOs(notifications []application.Notification) []notificationDTO {
	out := make([]notificationDTO, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, notificationDTO{
			ID:        n.ID,
			UserID:    n.UserID,
			RoomID:    n.RoomID,
			Type:      string(n.Type),
			Message:   n.Message,
			Read:      n.Read,
			CreatedAt: millis(n.CreatedAt),
			RelatedID: n.RelatedID,
		})
	}
	return out
}
