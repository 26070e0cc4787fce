package friendship_test

import (
	"testing"

	"pqsession/internal/domain"
	"pqsession/internal/friendship"
)

func TestUpdateOurState_BothAccepted(t *testing.T) {
	m := domain.FriendshipMetadata{MyState: domain.FriendshipRequested, TheirState: domain.FriendshipPending}
	m = friendship.SendFriendRequest(m)
	if m.OurState != domain.FriendshipRequested {
		t.Fatalf("got %v, want requested", m.OurState)
	}

	m.TheirState = domain.FriendshipAccepted
	m = friendship.AcceptFriendRequest(m)
	if m.OurState != domain.FriendshipAccepted {
		t.Fatalf("got %v, want accepted", m.OurState)
	}
}

func TestUpdateOurState_BlockedStaysUnchanged(t *testing.T) {
	m := domain.FriendshipMetadata{MyState: domain.FriendshipBlocked, OurState: domain.FriendshipAccepted}
	before := m.OurState
	m = friendship.UnBlockFriend(m)
	if m.OurState != before {
		t.Fatalf("blocked myState should leave ourState unchanged, got %v", m.OurState)
	}
}

func TestUpdateOurState_RejectedWins(t *testing.T) {
	m := domain.FriendshipMetadata{MyState: domain.FriendshipRejected, TheirState: domain.FriendshipAccepted}
	m = friendship.RejectFriendRequest(m)
	if m.OurState != domain.FriendshipRejected {
		t.Fatalf("got %v, want rejected", m.OurState)
	}
}

func TestUpdateOurState_BothPending(t *testing.T) {
	m := domain.FriendshipMetadata{}
	m = friendship.RevokeFriendRequest(m)
	if m.OurState != domain.FriendshipPending {
		t.Fatalf("got %v, want pending", m.OurState)
	}
}

func TestSwitchStates_FlipsPerspective(t *testing.T) {
	m := domain.FriendshipMetadata{MyState: domain.FriendshipRequested, TheirState: domain.FriendshipPending}
	flipped := friendship.SwitchStates(m)
	if flipped.MyState != domain.FriendshipPending || flipped.TheirState != domain.FriendshipRequested {
		t.Fatalf("got my=%v their=%v, want my=pending their=requested", flipped.MyState, flipped.TheirState)
	}
	if flipped.OurState != domain.FriendshipPending {
		t.Fatalf("got ourState=%v, want pending (myState=pending, theirState=requested falls through to the default rule)", flipped.OurState)
	}
}
