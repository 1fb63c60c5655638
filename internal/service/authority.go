package service

import (
	"context"
	"errors"
	"fmt"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// Authority answers membership and capability questions for a room and owns
// the member-management rules: plain members act only on their own messages,
// moderators and up act on any message, only the owner promotes or demotes,
// and the owner can never be removed or demoted.
type Authority struct {
	rooms       repositories.RoomRepository
	memberships repositories.MembershipRepository
	state       repositories.RoomStateRepository
}

// NewAuthority constructs an Authority.
func NewAuthority(rooms repositories.RoomRepository, memberships repositories.MembershipRepository, state repositories.RoomStateRepository) *Authority {
	return &Authority{rooms: rooms, memberships: memberships, state: state}
}

// MembershipOf returns the caller's membership in the room. The boolean is
// false when the user has no membership row or it is inactive.
func (a *Authority) MembershipOf(ctx context.Context, room models.RoomRef, userID int) (models.Membership, bool, error) {
	if _, err := a.rooms.Get(ctx, room); err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return models.Membership{}, false, notFoundf("room %s", room)
		}
		return models.Membership{}, false, fmt.Errorf("load room: %w", err)
	}

	m, err := a.memberships.Get(ctx, room, userID)
	if errors.Is(err, repositories.ErrMembershipNotFound) {
		return models.Membership{}, false, nil
	}
	if err != nil {
		return models.Membership{}, false, fmt.Errorf("load membership: %w", err)
	}
	if !m.Active {
		return models.Membership{}, false, nil
	}
	return m, true, nil
}

// RequireActive returns the caller's active membership or ErrForbidden.
func (a *Authority) RequireActive(ctx context.Context, room models.RoomRef, userID int) (models.Membership, error) {
	m, ok, err := a.MembershipOf(ctx, room, userID)
	if err != nil {
		return models.Membership{}, err
	}
	if !ok {
		return models.Membership{}, forbiddenf("user %d is not a member of %s", userID, room)
	}
	return m, nil
}

// RequirePrivileged returns the caller's membership if it carries moderator
// capabilities or better.
func (a *Authority) RequirePrivileged(ctx context.Context, room models.RoomRef, userID int) (models.Membership, error) {
	m, err := a.RequireActive(ctx, room, userID)
	if err != nil {
		return models.Membership{}, err
	}
	if !m.Role.Privileged() {
		return models.Membership{}, forbiddenf("user %d lacks required role in %s", userID, room)
	}
	return m, nil
}

// IsPrivileged reports whether the user is an active owner, admin or
// moderator of the room.
func (a *Authority) IsPrivileged(ctx context.Context, room models.RoomRef, userID int) (bool, error) {
	m, ok, err := a.MembershipOf(ctx, room, userID)
	if err != nil {
		return false, err
	}
	return ok && m.Role.Privileged(), nil
}

// Join adds a user to the room as a plain member, or reactivates a previous
// membership. Banned users are rejected.
func (a *Authority) Join(ctx context.Context, room models.RoomRef, userID int) error {
	if _, err := a.rooms.Get(ctx, room); err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return notFoundf("room %s", room)
		}
		return fmt.Errorf("load room: %w", err)
	}

	banned, err := a.state.IsBanned(ctx, room, userID)
	if err != nil {
		return fmt.Errorf("check ban: %w", err)
	}
	if banned {
		return forbiddenf("user %d is banned from %s", userID, room)
	}

	if err := a.memberships.Upsert(ctx, models.Membership{
		RoomKind: room.Kind,
		RoomID:   room.ID,
		UserID:   userID,
		Role:     models.RoleMember,
	}); err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// Leave deactivates the caller's membership. The owner cannot leave.
func (a *Authority) Leave(ctx context.Context, room models.RoomRef, userID int) error {
	m, err := a.RequireActive(ctx, room, userID)
	if err != nil {
		return err
	}
	if m.Role == models.RoleOwner {
		return forbiddenf("owner cannot leave %s", room)
	}
	if err := a.memberships.SetActive(ctx, room, userID, false); err != nil {
		return fmt.Errorf("deactivate membership: %w", err)
	}
	return nil
}

// SetRole promotes or demotes a member. Owner-only; the owner role itself is
// never assigned or taken away here.
func (a *Authority) SetRole(ctx context.Context, room models.RoomRef, callerID, targetID int, role models.Role) error {
	caller, err := a.RequireActive(ctx, room, callerID)
	if err != nil {
		return err
	}
	if !caller.Role.Capabilities().IsOwner {
		return forbiddenf("only the owner may change roles in %s", room)
	}
	if role == models.RoleOwner {
		return validationf("ownership is not transferable")
	}

	target, err := a.memberships.Get(ctx, room, targetID)
	if errors.Is(err, repositories.ErrMembershipNotFound) {
		return notFoundf("user %d in %s", targetID, room)
	}
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}
	if target.Role == models.RoleOwner {
		return forbiddenf("the owner cannot be demoted")
	}

	if err := a.memberships.SetRole(ctx, room, targetID, role); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

// Kick deactivates another member's membership. Privileged-only; the owner
// is untouchable.
func (a *Authority) Kick(ctx context.Context, room models.RoomRef, callerID, targetID int) error {
	if _, err := a.RequirePrivileged(ctx, room, callerID); err != nil {
		return err
	}
	if callerID == targetID {
		return validationf("cannot kick yourself")
	}

	target, err := a.memberships.Get(ctx, room, targetID)
	if errors.Is(err, repositories.ErrMembershipNotFound) {
		return notFoundf("user %d in %s", targetID, room)
	}
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}
	if target.Role == models.RoleOwner {
		return forbiddenf("the owner cannot be removed")
	}

	if err := a.memberships.SetActive(ctx, room, targetID, false); err != nil {
		return fmt.Errorf("deactivate membership: %w", err)
	}
	return nil
}

// BanUser kicks a member and adds them to the ban set so they cannot rejoin.
func (a *Authority) BanUser(ctx context.Context, room models.RoomRef, callerID, targetID int) error {
	if err := a.Kick(ctx, room, callerID, targetID); err != nil {
		return err
	}
	if err := a.state.Ban(ctx, room, targetID); err != nil {
		return fmt.Errorf("ban user: %w", err)
	}
	return nil
}

// MuteUser blocks a member from sending while keeping them in the room.
// Privileged-only; the owner cannot be muted.
func (a *Authority) MuteUser(ctx context.Context, room models.RoomRef, callerID, targetID int) error {
	if _, err := a.RequirePrivileged(ctx, room, callerID); err != nil {
		return err
	}
	if callerID == targetID {
		return validationf("cannot mute yourself")
	}

	target, err := a.memberships.Get(ctx, room, targetID)
	if errors.Is(err, repositories.ErrMembershipNotFound) {
		return notFoundf("user %d in %s", targetID, room)
	}
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}
	if target.Role == models.RoleOwner {
		return forbiddenf("the owner cannot be muted")
	}

	if err := a.state.Mute(ctx, room, targetID); err != nil {
		return fmt.Errorf("mute user: %w", err)
	}
	return nil
}

// UnmuteUser lifts a mute. Privileged-only.
func (a *Authority) UnmuteUser(ctx context.Context, room models.RoomRef, callerID, targetID int) error {
	if _, err := a.RequirePrivileged(ctx, room, callerID); err != nil {
		return err
	}
	if err := a.state.Unmute(ctx, room, targetID); err != nil {
		return fmt.Errorf("unmute user: %w", err)
	}
	return nil
}

// SetSlowMode updates the room's slow-mode interval. Privileged-only; zero
// disables it.
func (a *Authority) SetSlowMode(ctx context.Context, room models.RoomRef, callerID, seconds int) error {
	if _, err := a.RequirePrivileged(ctx, room, callerID); err != nil {
		return err
	}
	if seconds < 0 {
		return validationf("slow mode interval cannot be negative")
	}
	if err := a.state.SetSlowMode(ctx, room, seconds); err != nil {
		return fmt.Errorf("set slow mode: %w", err)
	}
	return nil
}

// UnbanUser removes a user from the ban set. Privileged-only.
func (a *Authority) UnbanUser(ctx context.Context, room models.RoomRef, callerID, targetID int) error {
	if _, err := a.RequirePrivileged(ctx, room, callerID); err != nil {
		return err
	}
	if err := a.state.Unban(ctx, room, targetID); err != nil {
		return fmt.Errorf("unban user: %w", err)
	}
	return nil
}
